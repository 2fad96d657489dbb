package cmd

import (
	"testing"

	"github.com/spf13/pflag"

	"github.com/opensandbox/batchfleet/internal/batch"
)

func createFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("create", pflag.ContinueOnError)
	flags.String("vm-size", "", "")
	flags.String("image-publisher", "", "")
	flags.String("image-offer", "", "")
	flags.String("image-sku", "", "")
	flags.String("node-agent-sku", "", "")
	addPoolSettingFlags(flags)
	if err := flags.Parse(args); err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	return flags
}

func TestPoolSpecFromFlags(t *testing.T) {
	flags := createFlags(t,
		"--vm-size", "Standard_D4s_v3",
		"--image-publisher", "canonical", "--image-offer", "ubuntu-22_04-lts", "--image-sku", "server",
		"--node-agent-sku", "batch.node.ubuntu 22.04",
		"--target-nodes", "0",
		"--start-task", "setup.sh", "--start-task-wait",
		"--app", "renderer:2.0", "--app", "codecs:7",
		"--identity", "sub/rg/pull",
	)
	spec, err := poolSpecFromFlags("render", flags)
	if err != nil {
		t.Fatalf("poolSpecFromFlags() error: %v", err)
	}
	if !imageComplete(spec) {
		t.Errorf("expected a complete image, got %+v", spec.Image)
	}
	if spec.TargetDedicatedNodes == nil || *spec.TargetDedicatedNodes != 0 {
		t.Errorf("explicit zero target must be kept, got %v", spec.TargetDedicatedNodes)
	}
	if spec.StartTask == nil || !spec.StartTask.WaitForSuccess || spec.StartTask.ElevationLevel != batch.ElevationNonAdmin {
		t.Errorf("unexpected start task %+v", spec.StartTask)
	}
	if len(spec.Applications) != 2 || spec.Applications[1] != (batch.ApplicationReference{ApplicationID: "codecs", Version: "7"}) {
		t.Errorf("unexpected applications %+v", spec.Applications)
	}
	if len(spec.Identities) != 1 || spec.Identities[0].Name != "pull" {
		t.Errorf("unexpected identities %+v", spec.Identities)
	}
	if err := spec.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestPoolSpecFromFlags_Defaults(t *testing.T) {
	spec, err := poolSpecFromFlags("render", createFlags(t, "--vm-size", "Standard_D2s_v3", "--image-sku", "server"))
	if err != nil {
		t.Fatalf("poolSpecFromFlags() error: %v", err)
	}
	if spec.TargetDedicatedNodes != nil || spec.StartTask != nil {
		t.Errorf("unset flags must stay unset, got %+v", spec)
	}
	if imageComplete(spec) {
		t.Error("a bare image sku is not a complete image")
	}
}

func TestParsePoolReferenceErrors(t *testing.T) {
	for _, v := range []string{"renderer", ":1.0", "renderer:"} {
		if _, err := parseAppRefs([]string{v}); err == nil {
			t.Errorf("parseAppRefs(%q) expected error", v)
		}
	}
	for _, v := range []string{"sub/rg", "sub//name", "a/b/c/d"} {
		if _, err := parseIdentities([]string{v}); err == nil {
			t.Errorf("parseIdentities(%q) expected error", v)
		}
	}
}
