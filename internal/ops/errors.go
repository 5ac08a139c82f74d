package ops

import (
	"errors"
	"fmt"
	"strings"
)

// Descriptor validation errors, matched with errors.Is.
var (
	ErrUnknownOperation = errors.New("unknown operation")
	ErrMissingArg       = errors.New("missing required argument")
	ErrInvalidArg       = errors.New("invalid argument")
)

// toolInfo holds install metadata for a known tool.
type toolInfo struct {
	// Install is a URL or command that installs the tool.
	Install string
}

// knownTools maps tool binary names to their install metadata.
var knownTools = map[string]toolInfo{
	"docker":            {Install: "https://docs.docker.com/get-docker/"},
	"kubectl":           {Install: "https://kubernetes.io/docs/tasks/tools/"},
	"terraform":         {Install: "https://developer.hashicorp.com/terraform/install"},
	"ansible-inventory": {Install: "pipx install --include-deps ansible"},
	"ansible-playbook":  {Install: "pipx install --include-deps ansible"},
}

// ErrToolUnavailable is returned when an operation's tool is not installed.
// It includes install instructions when the tool is known.
type ErrToolUnavailable struct {
	Name string
	Info *toolInfo
}

func NewErrToolUnavailable(name string) ErrToolUnavailable {
	e := ErrToolUnavailable{Name: name}
	if info, ok := knownTools[name]; ok {
		e.Info = &info
	}
	return e
}

func (e ErrToolUnavailable) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s is required but not installed.", e.Name)
	if e.Info != nil && e.Info.Install != "" {
		fmt.Fprintf(&b, "\nInstall: %s", e.Info.Install)
	}
	return b.String()
}
