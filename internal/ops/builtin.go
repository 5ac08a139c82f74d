package ops

import "time"

// Patterns shared by built-in parameters. Values are shell-quoted when
// the command line is built; patterns keep them to the shapes the
// tools accept.
const (
	imagePattern     = `^[A-Za-z0-9][A-Za-z0-9._/:@-]*$`
	containerPattern = `^[A-Za-z0-9][A-Za-z0-9_.-]*$`
	portPattern      = `^[0-9]{1,5}$`
	k8sNamePattern   = `^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`
	// pathPattern accepts relative paths only. Every segment starts with
	// a letter, digit, underscore or a dot followed by one of those, so
	// values cannot read as options or climb out with "..".
	pathPattern = `^` + pathSegment + `(/` + pathSegment + `)*$`
	pathSegment = `(?:[A-Za-z0-9_][A-Za-z0-9._-]*|\.[A-Za-z0-9_][A-Za-z0-9._-]*)`
)

var defaultPhrases = map[string]string{
	"list all files":    "shell.ls",
	"list files":        "shell.ls",
	"date":              "shell.date",
	"who am i":          "shell.whoami",
	"docker containers": "docker.ps",
	"docker status":     "docker.ps",
	"docker images":     "docker.images",
	"list pods":         "kubectl.pods",
}

func builtins() []Spec {
	return []Spec{
		// --- shell ---
		{Name: "shell.ls", Description: "List files in the working directory.", Argv: []string{"ls", "-la"}},
		{Name: "shell.date", Description: "Print the current date.", Argv: []string{"date"}},
		{Name: "shell.whoami", Description: "Print the current user.", Argv: []string{"whoami"}},

		// --- docker ---
		{Name: "docker.ps", Tool: "docker", Description: "List all containers.", Argv: []string{"docker", "ps", "-a"}},
		{Name: "docker.images", Tool: "docker", Description: "List all images.", Argv: []string{"docker", "images"}},
		{
			Name: "docker.pull", Tool: "docker", Description: "Pull an image from a registry.",
			Params:  []Param{{Name: "image", Description: "Image reference, e.g. ubuntu:latest.", Required: true, Pattern: imagePattern}},
			Argv:    []string{"docker", "pull", `{{arg "image"}}`},
			Timeout: 10 * time.Minute,
		},
		{
			Name: "docker.stop", Tool: "docker", Description: "Stop a running container.", Mutating: true,
			Params: []Param{{Name: "container", Description: "Container ID or name.", Required: true, Pattern: containerPattern}},
			Argv:   []string{"docker", "stop", `{{arg "container"}}`},
		},
		{
			Name: "docker.rm", Tool: "docker", Description: "Remove a container.", Mutating: true,
			Params: []Param{{Name: "container", Description: "Container ID or name.", Required: true, Pattern: containerPattern}},
			Argv:   []string{"docker", "rm", `{{arg "container"}}`},
		},
		{
			Name: "docker.rmi", Tool: "docker", Description: "Remove an image.", Mutating: true,
			Params: []Param{{Name: "image", Description: "Image ID or reference.", Required: true, Pattern: imagePattern}},
			Argv:   []string{"docker", "rmi", `{{arg "image"}}`},
		},
		{
			Name: "docker.build", Tool: "docker", Description: "Build an image from a Dockerfile in the working directory.", Mutating: true,
			Params: []Param{
				{Name: "tag", Description: "Image tag to apply.", Required: true, Pattern: imagePattern},
				{Name: "file", Description: "Dockerfile name.", Default: "Dockerfile", Pattern: pathPattern},
			},
			Argv:    []string{"docker", "build", "-f", `{{arg "file"}}`, "-t", `{{arg "tag"}}`, "."},
			Timeout: 15 * time.Minute,
		},
		{
			Name: "docker.run", Tool: "docker", Description: "Run a detached container with one published port.", Mutating: true,
			Params: []Param{
				{Name: "image", Description: "Image to run.", Required: true, Pattern: imagePattern},
				{Name: "name", Description: "Container name.", Required: true, Pattern: containerPattern},
				{Name: "port", Description: "Host port.", Required: true, Pattern: portPattern},
				{Name: "container_port", Description: "Container port.", Default: "5000", Pattern: portPattern},
			},
			Argv: []string{"docker", "run", "-d", "--rm", "-p", `{{arg "port"}}:{{arg "container_port"}}`, "--name", `{{arg "name"}}`, `{{arg "image"}}`},
		},

		// --- kubernetes ---
		{Name: "kubectl.pods", Tool: "kubectl", Description: "List pods in all namespaces.", Argv: []string{"kubectl", "get", "pods", "--all-namespaces"}},
		{
			Name: "kubectl.run", Tool: "kubectl", Description: "Launch a pod from an image.", Mutating: true,
			Params: []Param{
				{Name: "name", Description: "Pod name.", Required: true, Pattern: k8sNamePattern},
				{Name: "image", Description: "Container image.", Default: "nginx", Pattern: imagePattern},
			},
			Argv: []string{"kubectl", "run", `{{arg "name"}}`, `--image={{arg "image"}}`},
		},
		{
			Name: "kubectl.delete_pod", Tool: "kubectl", Description: "Delete a pod.", Mutating: true,
			Params: []Param{{Name: "name", Description: "Pod name.", Required: true, Pattern: k8sNamePattern}},
			Argv:   []string{"kubectl", "delete", "pod", `{{arg "name"}}`},
		},

		// --- terraform ---
		{Name: "terraform.init", Tool: "terraform", Description: "Initialise the Terraform working directory.", Argv: []string{"terraform", "init", "-input=false"}},
		{Name: "terraform.plan", Tool: "terraform", Description: "Show the execution plan.", Argv: []string{"terraform", "plan", "-input=false"}},
		{Name: "terraform.apply", Tool: "terraform", Description: "Apply the configuration.", Mutating: true, Argv: []string{"terraform", "apply", "-auto-approve", "-input=false"}, Timeout: 30 * time.Minute},
		{Name: "terraform.destroy", Tool: "terraform", Description: "Destroy managed resources.", Mutating: true, Argv: []string{"terraform", "destroy", "-auto-approve", "-input=false"}, Timeout: 30 * time.Minute},

		// --- ansible ---
		{
			Name: "ansible.inventory", Tool: "ansible-inventory", Description: "List inventory hosts.",
			Params: []Param{{Name: "inventory", Description: "Inventory file.", Default: "inventory.ini", Pattern: pathPattern}},
			Argv:   []string{"ansible-inventory", "-i", `{{arg "inventory"}}`, "--list"},
		},
		{
			Name: "ansible.playbook", Tool: "ansible-playbook", Description: "Run a playbook against an inventory.", Mutating: true,
			Params: []Param{
				{Name: "inventory", Description: "Inventory file.", Default: "inventory.ini", Pattern: pathPattern},
				{Name: "playbook", Description: "Playbook file.", Default: "playbook.yml", Pattern: pathPattern},
			},
			Argv:    []string{"ansible-playbook", "-i", `{{arg "inventory"}}`, `{{arg "playbook"}}`},
			Timeout: 30 * time.Minute,
		},

		// --- jenkins ---
		{
			Name: "jenkins.start", Tool: "docker", Description: "Start a Jenkins LTS server container.", Mutating: true,
			Params: []Param{
				{Name: "port", Description: "Host port for the web UI.", Default: "8080", Pattern: portPattern},
				{Name: "name", Description: "Container name.", Default: "jenkins-server", Pattern: containerPattern},
			},
			Argv: []string{"docker", "run", "-d", "--rm", "-p", `{{arg "port"}}:8080`, "-p", "50000:50000", "--name", `{{arg "name"}}`, "jenkins/jenkins:lts"},
		},
	}
}
