package annotation

import "time"

// ProjectData is a read-only annotation instance spanning several tasks
type ProjectData struct {
	ID        int64
	Name      string
	Labels    []Label
	CreatedAt time.Time
	UpdatedAt time.Time
	DumpedAt  time.Time
	TaskData  []*TaskData
}

func (p *ProjectData) IsProject() bool {
	return true
}

func (p *ProjectData) Tasks() []*TaskInfo {
	tasks := make([]*TaskInfo, 0, len(p.TaskData))
	for _, td := range p.TaskData {
		tasks = append(tasks, &td.Task)
	}
	return tasks
}

func (p *ProjectData) Meta() Meta {
	tasks := Meta{}
	for _, td := range p.TaskData {
		tasks = append(tasks, Node("task", td.taskMeta()...))
	}
	project := Node("project",
		Int("id", p.ID),
		Text("name", p.Name),
		Text("created", formatMetaTime(p.CreatedAt)),
		Text("updated", formatMetaTime(p.UpdatedAt)),
		labelsMeta(p.Labels),
		Node("tasks", tasks...),
	)
	m := Meta{project}
	if !p.DumpedAt.IsZero() {
		m = append(m, Text("dumped", formatMetaTime(p.DumpedAt)))
	}
	return m
}

// GroupByFrame returns the frames of every task, one task after the other
func (p *ProjectData) GroupByFrame() []FrameAnnotation {
	all := []FrameAnnotation{}
	for _, td := range p.TaskData {
		subset := DefaultedSubset(td.Task.Subset)
		for _, f := range td.GroupByFrame() {
			f.Subset = subset
			f.TaskID = td.Task.ID
			all = append(all, f)
		}
	}
	return all
}

func (p *ProjectData) Tracks() []Track {
	all := []Track{}
	for _, td := range p.TaskData {
		for _, t := range td.Anno.Tracks {
			t.TaskID = td.Task.ID
			all = append(all, t)
		}
	}
	return all
}

func (p *ProjectData) Shapes() []LabeledShape {
	all := []LabeledShape{}
	for _, td := range p.TaskData {
		for _, s := range td.Anno.Shapes {
			s.TaskID = td.Task.ID
			all = append(all, s)
		}
	}
	return all
}
