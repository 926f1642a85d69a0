// pkg/core/project.go
package core

// Stage and timeline constants shared by every component.
const (
	StageWidth  = 800
	StageHeight = 600

	// MatchTolerance is how close (ms) a keyframe must be to count as "at" a time.
	MatchTolerance int64 = 50

	MinDuration     int64 = 1000
	DefaultDuration int64 = 30000

	ProjectVersion = 1

	OriginKeyframeID KeyframeID = "start"
)

// Project is the persisted unit. Raw audio is never embedded; AudioFileName
// is informational and the audio has to be re-attached after a load.
type Project struct {
	Version       int         `json:"version"`
	ProjectName   string      `json:"projectName"`
	Dancers       []Performer `json:"dancers"`
	Keyframes     []Keyframe  `json:"keyframes"`
	Duration      int64       `json:"duration"`
	AudioFileName *string     `json:"audioFileName"`
}

// NewProject returns the project an editor starts with: the default cast
// standing in the origin keyframe.
func NewProject(name string) *Project {
	performers, positions := DefaultCast()
	return &Project{
		Version:     ProjectVersion,
		ProjectName: name,
		Dancers:     performers,
		Keyframes: []Keyframe{
			{ID: OriginKeyframeID, Timestamp: 0, Positions: positions},
		},
		Duration: DefaultDuration,
	}
}

// Clone deep-copies the project.
func (p *Project) Clone() *Project {
	out := &Project{
		Version:     p.Version,
		ProjectName: p.ProjectName,
		Dancers:     append([]Performer(nil), p.Dancers...),
		Keyframes:   make([]Keyframe, len(p.Keyframes)),
		Duration:    p.Duration,
	}
	for i, k := range p.Keyframes {
		out.Keyframes[i] = k.Clone()
	}
	if p.AudioFileName != nil {
		name := *p.AudioFileName
		out.AudioFileName = &name
	}
	return out
}
