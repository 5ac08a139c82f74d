package ops

import "os/exec"

// ToolStatus reports whether a tool binary is installed.
type ToolStatus struct {
	Name      string `json:"name"`
	Path      string `json:"path,omitempty"`
	Available bool   `json:"available"`
	Install   string `json:"install,omitempty"`
}

// Tools reports the availability of every tool the catalog uses.
func (e *Engine) Tools() []ToolStatus {
	names := e.Catalog.Tools()
	out := make([]ToolStatus, 0, len(names))
	for _, name := range names {
		st := ToolStatus{Name: name}
		if path, err := e.lookPath(name); err == nil {
			st.Path = path
			st.Available = true
		} else if info, ok := knownTools[name]; ok {
			st.Install = info.Install
		}
		out = append(out, st)
	}
	return out
}

func (e *Engine) toolAvailable(name string) bool {
	_, err := e.lookPath(name)
	return err == nil
}

func (e *Engine) lookPath(name string) (string, error) {
	if e.LookPath != nil {
		return e.LookPath(name)
	}
	return exec.LookPath(name)
}
