package xmlconv

import (
	"bytes"
	"strings"
	"testing"

	"github.com/cyclopcam/labelstore/pkg/annotation"
	"github.com/cyclopcam/labelstore/pkg/annotxml"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `<?xml version="1.0" encoding="utf-8"?>
<annotations>
  <version>1.1</version>
  <meta>
    <task>
      <name>sample</name>
      <labels>
        <label>
          <name>road</name>
          <color>#aa0000</color>
          <attributes>
            <attribute>
              <name>width</name>
            </attribute>
          </attributes>
        </label>
        <label>
          <name>sign</name>
          <color>#00bb00</color>
          <attributes>
          </attributes>
        </label>
      </labels>
    </task>
  </meta>
  <image id="0" name="photos/img_b.jpg" width="10" height="10">
    <polygon label="road" occluded="0" source="manual" points="0.00,0.00;1.00,0.00;1.00,1.00;0.00,1.00" z_order="0">
      <attribute name="width">2</attribute>
    </polygon>
    <polygon label="sign" occluded="0" source="manual" points="0.00,0.00;1.00,0.00;1.00,1.00;0.00,1.00" z_order="0">
    </polygon>
    <polygon label="road" occluded="0" source="manual" points="0.00,0.00;1.00,0.00;1.00,1.00" z_order="0">
    </polygon>
  </image>
  <image id="1" name="photos/img_a.v2.jpg" width="10" height="10">
  </image>
  <image id="2" name="photos/img_z.jpg" width="10" height="10">
  </image>
</annotations>
`

func TestPureName(t *testing.T) {
	require.Equal(t, "img_001", PureName("dir/sub/img_001.tar.jpg"))
	require.Equal(t, "img", PureName(`c:\x\img.png`))
	require.Equal(t, "img", PureName("img"))
}

func TestReadImageList(t *testing.T) {
	list, err := ReadImageList(strings.NewReader("img_a\nimg_b  \r\nimg_c\n"))
	require.NoError(t, err)
	require.Equal(t, ImageList{"img_a": 0, "img_b": 1, "img_c": 2}, list)

	buf := bytes.Buffer{}
	require.NoError(t, WriteImageList(&buf, []string{"x", "y"}))
	require.Equal(t, "x\ny\n", buf.String())
}

func TestConvert(t *testing.T) {
	list := ImageList{"img_a": 0, "img_b": 1, "img_c": 2}
	out := bytes.Buffer{}
	stats, err := Convert(strings.NewReader(sampleDoc), &out, ConvertOptions{
		ImageList:     list,
		Rotbox:        true,
		RotboxExclude: map[string]bool{"sign": true},
	})
	require.NoError(t, err)
	require.Equal(t, 3, stats.Images)
	require.Equal(t, 3, stats.Objects)
	require.Equal(t, 1, stats.Rotbox)
	require.Equal(t, 1, stats.ConversionErrors)
	require.Equal(t, []string{"img_z"}, stats.Missing)
	require.Equal(t, []string{"img_c"}, stats.Unreferenced)

	doc := out.String()
	require.True(t, strings.HasPrefix(doc, `<?xml version="1.0" encoding="utf-8"?>`))
	require.Contains(t, doc, `<image id="1" name="photos/img_b.jpg" width="10" height="10">`)
	require.Contains(t, doc, `<image id="0" name="photos/img_a.v2.jpg" width="10" height="10">`)
	require.Contains(t, doc, `<image id="2" name="photos/img_z.jpg" width="10" height="10">`)
	require.Equal(t, 1, strings.Count(doc, "<rotbox "))
	require.Equal(t, 1, strings.Count(doc, "</rotbox>"))
	require.Equal(t, 2, strings.Count(doc, "<polygon "))
	// Labels inside meta are untouched
	require.Contains(t, doc, "<name>road</name>")

	// The converted rotbox loads as a rotbox
	task := annotation.NewTaskData(annotation.TaskInfo{
		Frames: []annotation.FrameInfo{
			{Frame: 0, Path: "photos/img_a.v2.jpg"},
			{Frame: 1, Path: "photos/img_b.jpg"},
			{Frame: 2, Path: "photos/img_z.jpg"},
		},
	})
	require.NoError(t, annotxml.Load(strings.NewReader(doc), task))
	require.Equal(t, 3, len(task.Anno.Shapes))
	require.Equal(t, annotation.Rotbox, task.Anno.Shapes[0].Type)
	require.Equal(t, 1, task.Anno.Shapes[0].Frame)
	require.Equal(t, []annotation.Attribute{{Name: "width", Value: "2"}}, task.Anno.Shapes[0].Attributes)
	require.Equal(t, annotation.Polygon, task.Anno.Shapes[1].Type)
}

func TestConvertNoOptions(t *testing.T) {
	out := bytes.Buffer{}
	stats, err := Convert(strings.NewReader(sampleDoc), &out, ConvertOptions{})
	require.NoError(t, err)
	require.Equal(t, 3, stats.Images)
	require.Equal(t, 0, stats.Objects)
	require.Nil(t, stats.Missing)
	require.Contains(t, out.String(), `<image id="0" name="photos/img_b.jpg"`)
	require.NotContains(t, out.String(), "rotbox")

	_, err = Convert(strings.NewReader("<annotations><image>"), &bytes.Buffer{}, ConvertOptions{})
	require.Error(t, err)
}

func TestExtractLabels(t *testing.T) {
	labels := NewLabelColors()
	require.NoError(t, ExtractLabels(strings.NewReader(sampleDoc), labels))
	require.Equal(t, []string{"road", "sign"}, labels.Names())
	c, ok := labels.Color("sign")
	require.True(t, ok)
	require.Equal(t, "#00bb00", c)

	// A second document updates colors, and appends new labels
	second := `<annotations><meta><task><labels>
		<label><name>tree</name><color>#111111</color></label>
		<label><name>road</name><color>#222222</color></label>
	</labels></task></meta></annotations>`
	require.NoError(t, ExtractLabels(strings.NewReader(second), labels))
	require.Equal(t, 3, labels.Len())
	require.Equal(t, []string{"road", "sign", "tree"}, labels.Names())
	c, _ = labels.Color("road")
	require.Equal(t, "#222222", c)

	js, err := labels.JSON()
	require.NoError(t, err)
	require.Equal(t, `[
  {
    "name": "road",
    "color": "#222222",
    "attributes": []
  },
  {
    "name": "sign",
    "color": "#00bb00",
    "attributes": []
  },
  {
    "name": "tree",
    "color": "#111111",
    "attributes": []
  }
]`, string(js))
}

func TestScanFrames(t *testing.T) {
	refs, err := ScanFrames(strings.NewReader(sampleDoc))
	require.NoError(t, err)
	require.Equal(t, []FrameRef{
		{Frame: 0, Name: "photos/img_b.jpg", Width: 10, Height: 10},
		{Frame: 1, Name: "photos/img_a.v2.jpg", Width: 10, Height: 10},
		{Frame: 2, Name: "photos/img_z.jpg", Width: 10, Height: 10},
	}, refs)

	video := `<annotations>
  <meta><task><original_size><width>640</width><height>480</height></original_size></task></meta>
  <track id="0" label="car" source="manual">
    <box frame="5" keyframe="1" outside="0" occluded="0" xtl="0.00" ytl="0.00" xbr="1.00" ybr="1.00" z_order="0"></box>
    <box frame="2" keyframe="1" outside="1" occluded="0" xtl="0.00" ytl="0.00" xbr="1.00" ybr="1.00" z_order="0"></box>
  </track>
</annotations>`
	refs, err = ScanFrames(strings.NewReader(video))
	require.NoError(t, err)
	require.Equal(t, []FrameRef{
		{Frame: 2, Name: "frame_000002", Width: 640, Height: 480},
		{Frame: 5, Name: "frame_000005", Width: 640, Height: 480},
	}, refs)

	_, err = ScanFrames(strings.NewReader(`<annotations><image id="x" name="a.jpg"></image></annotations>`))
	require.Error(t, err)
}
