package annotation

import (
	"strconv"
	"strings"
)

// MetaEntry is one element of the <meta> block.
// If Children is non-nil, the entry is a nested element and Value is ignored.
// Lists are expressed by repeating a key inside Children (eg labels -> label, label, ...).
type MetaEntry struct {
	Key      string
	Value    string
	Children Meta
}

// Meta is an ordered key/value tree
type Meta []MetaEntry

func (m MetaEntry) IsNode() bool {
	return m.Children != nil
}

// Text creates a leaf entry
func Text(key, value string) MetaEntry {
	return MetaEntry{Key: key, Value: value}
}

// Int creates a leaf entry from an integer
func Int(key string, value int64) MetaEntry {
	return MetaEntry{Key: key, Value: strconv.FormatInt(value, 10)}
}

// Node creates a nested entry. A node with no children is still a node.
func Node(key string, children ...MetaEntry) MetaEntry {
	if children == nil {
		children = Meta{}
	}
	return MetaEntry{Key: key, Children: children}
}

// Get returns the first entry with the given key
func (m Meta) Get(key string) (MetaEntry, bool) {
	for _, e := range m {
		if e.Key == key {
			return e, true
		}
	}
	return MetaEntry{}, false
}

// Lookup walks a path of keys, eg Lookup("task", "stop_frame")
func (m Meta) Lookup(path ...string) (MetaEntry, bool) {
	cur := m
	var found MetaEntry
	for _, key := range path {
		e, ok := cur.Get(key)
		if !ok {
			return MetaEntry{}, false
		}
		found = e
		cur = e.Children
	}
	return found, true
}

// pyBool is the spelling of booleans in the meta block
func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func labelsMeta(labels []Label) MetaEntry {
	items := Meta{}
	for _, l := range labels {
		attribs := Meta{}
		for _, a := range l.Attributes {
			attribs = append(attribs, Node("attribute",
				Text("name", a.Name),
				Text("mutable", pyBool(a.Mutable)),
				Text("input_type", a.InputType),
				Text("default_value", a.DefaultValue),
				Text("values", strings.Join(a.Values, "\n")),
			))
		}
		items = append(items, Node("label",
			Text("name", l.Name),
			Text("color", l.Color),
			Node("attributes", attribs...),
		))
	}
	return Node("labels", items...)
}
