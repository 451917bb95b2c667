package annotzip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cyclopcam/labelstore/pkg/annotation"
	"github.com/cyclopcam/labelstore/pkg/annotxml"
	"github.com/cyclopcam/logs"
)

var ErrUnknownFormat = errors.New("unknown annotation format")

type ExportFunc func(ctx context.Context, log logs.Log, dst io.Writer, src annotation.Source, opts ExportOptions) error
type ImportFunc func(ctx context.Context, log logs.Log, r io.ReaderAt, size int64, sink annotation.Sink) error

// Format identifies an exporter or importer, eg "CVAT for images" version "1.1"
type Format struct {
	Name    string `json:"name"`
	Ext     string `json:"ext"` // eg "ZIP", or "XML, ZIP"
	Version string `json:"version"`
}

// DisplayName is the name that formats are looked up by, eg "CVAT for images 1.1"
func (f Format) DisplayName() string {
	return f.Name + " " + f.Version
}

type Exporter struct {
	Format
	Export ExportFunc
}

type Importer struct {
	Format
	Import ImportFunc
}

// Registry holds the available exporters and importers
type Registry struct {
	exporters []*Exporter
	importers []*Importer
}

func NewRegistry() *Registry {
	return &Registry{}
}

// NewDefaultRegistry returns a registry with the annotation XML 1.1 formats
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.AddExporter(Exporter{
		Format: Format{Name: "CVAT for video", Ext: "ZIP", Version: annotxml.Version},
		Export: func(ctx context.Context, log logs.Log, dst io.Writer, src annotation.Source, opts ExportOptions) error {
			return Export(ctx, log, dst, src, annotxml.DumpVideo, opts)
		},
	})
	r.AddExporter(Exporter{
		Format: Format{Name: "CVAT for images", Ext: "ZIP", Version: annotxml.Version},
		Export: func(ctx context.Context, log logs.Log, dst io.Writer, src annotation.Source, opts ExportOptions) error {
			return Export(ctx, log, dst, src, annotxml.DumpImages, opts)
		},
	})
	r.AddImporter(Importer{
		Format: Format{Name: "CVAT", Ext: "XML, ZIP", Version: annotxml.Version},
		Import: Import,
	})
	return r
}

func (r *Registry) AddExporter(e Exporter) error {
	if _, err := r.Exporter(e.DisplayName()); err == nil {
		return fmt.Errorf("exporter '%v' is already registered", e.DisplayName())
	}
	r.exporters = append(r.exporters, &e)
	return nil
}

func (r *Registry) AddImporter(i Importer) error {
	if _, err := r.Importer(i.DisplayName()); err == nil {
		return fmt.Errorf("importer '%v' is already registered", i.DisplayName())
	}
	r.importers = append(r.importers, &i)
	return nil
}

// Exporter finds an exporter by display name (case insensitive)
func (r *Registry) Exporter(name string) (*Exporter, error) {
	for _, e := range r.exporters {
		if strings.EqualFold(e.DisplayName(), name) {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: exporter '%v'", ErrUnknownFormat, name)
}

// Importer finds an importer by display name (case insensitive)
func (r *Registry) Importer(name string) (*Importer, error) {
	for _, i := range r.importers {
		if strings.EqualFold(i.DisplayName(), name) {
			return i, nil
		}
	}
	return nil, fmt.Errorf("%w: importer '%v'", ErrUnknownFormat, name)
}

// Exporters lists the export formats, in registration order
func (r *Registry) Exporters() []Format {
	formats := make([]Format, 0, len(r.exporters))
	for _, e := range r.exporters {
		formats = append(formats, e.Format)
	}
	return formats
}

// Importers lists the import formats, in registration order
func (r *Registry) Importers() []Format {
	formats := make([]Format, 0, len(r.importers))
	for _, i := range r.importers {
		formats = append(formats, i.Format)
	}
	return formats
}
