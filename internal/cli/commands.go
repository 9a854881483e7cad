package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/st-keller/ultrasync"
	"github.com/st-keller/ultrasync/panel"
)

// NewArmCommand creates the arm command.
func NewArmCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		scene string
		area  int
	)

	cmd := &cobra.Command{
		Use:   "arm",
		Short: "Arm (away or stay) or disarm an area",
		Long: `Arm or disarm an area. --area 0 addresses every area at once.

Examples:
  ultrasync arm --scene away
  ultrasync arm --scene stay --area 2
  ultrasync arm --scene disarm`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := panel.ParseScene(scene)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --scene", err)
			}
			return runArm(rootOpts, sc, area, cmd)
		},
	}

	cmd.Flags().StringVarP(&scene, "scene", "s", "", "away, stay or disarm")
	cmd.Flags().IntVarP(&area, "area", "a", panel.AllAreas, "area number (0 = all areas)")
	_ = cmd.MarkFlagRequired("scene")
	return cmd
}

func runArm(opts *RootOptions, scene panel.Scene, area int, cmd *cobra.Command) error {
	return runCommand(opts, cmd, func(client *ultrasync.Client) (func() bool, error) {
		done := func() bool {
			for _, a := range client.Areas() {
				if area != panel.AllAreas && a.Number != area {
					continue
				}
				if !sceneReached(a, scene) {
					return false
				}
			}
			return true
		}
		return done, client.SetAlarm(area, scene)
	}, func(client *ultrasync.Client) {
		out := cmd.OutOrStdout()
		for _, a := range client.Areas() {
			if area == panel.AllAreas || a.Number == area {
				fmt.Fprintln(out, renderArea(a))
			}
		}
	})
}

func sceneReached(a panel.Area, scene panel.Scene) bool {
	switch scene {
	case panel.SceneAway:
		return a.Armed
	case panel.SceneStay:
		return a.Partial
	default:
		return !a.Armed && !a.Partial
	}
}

// NewChimeCommand creates the chime command.
func NewChimeCommand(rootOpts *RootOptions) *cobra.Command {
	var area int

	cmd := &cobra.Command{
		Use:   "chime",
		Short: "Toggle the door chime of an area",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChime(rootOpts, area, cmd)
		},
	}

	cmd.Flags().IntVarP(&area, "area", "a", 1, "area number (0 = all areas)")
	return cmd
}

func runChime(opts *RootOptions, area int, cmd *cobra.Command) error {
	return runCommand(opts, cmd, func(client *ultrasync.Client) (func() bool, error) {
		before := chimes(client, area)
		done := func() bool {
			after := chimes(client, area)
			for n, was := range before {
				if after[n] == was {
					return false
				}
			}
			return true
		}
		return done, client.ToggleChime(area)
	}, func(client *ultrasync.Client) {
		out := cmd.OutOrStdout()
		for _, a := range client.Areas() {
			if area == panel.AllAreas || a.Number == area {
				fmt.Fprintf(out, "%s chime %s\n", a.Name, onOff(a.Chime))
			}
		}
	})
}

func chimes(client *ultrasync.Client, area int) map[int]bool {
	out := map[int]bool{}
	for _, a := range client.Areas() {
		if area == panel.AllAreas || a.Number == area {
			out[a.Number] = a.Chime
		}
	}
	return out
}

// NewBypassCommand creates the bypass command.
func NewBypassCommand(rootOpts *RootOptions) *cobra.Command {
	var zone int

	cmd := &cobra.Command{
		Use:   "bypass",
		Short: "Toggle the bypass state of a zone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBypass(rootOpts, zone, cmd)
		},
	}

	cmd.Flags().IntVarP(&zone, "zone", "z", 0, "zone number")
	_ = cmd.MarkFlagRequired("zone")
	return cmd
}

func runBypass(opts *RootOptions, zone int, cmd *cobra.Command) error {
	return runCommand(opts, cmd, func(client *ultrasync.Client) (func() bool, error) {
		before, _ := findZone(client, zone)
		done := func() bool {
			z, ok := findZone(client, zone)
			return ok && z.Bypassed != before.Bypassed
		}
		return done, client.ToggleZoneBypass(zone)
	}, func(client *ultrasync.Client) {
		if z, ok := findZone(client, zone); ok {
			fmt.Fprintln(cmd.OutOrStdout(), renderZone(z))
		}
	})
}

func findZone(client *ultrasync.Client, number int) (panel.Zone, bool) {
	for _, z := range client.Zones() {
		if z.Number == number {
			return z, true
		}
	}
	return panel.Zone{}, false
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// runCommand logs in, starts the client, issues one command and waits for
// the panel to confirm it. submit returns the confirmation condition and the
// command's submission error.
func runCommand(opts *RootOptions, cmd *cobra.Command, submit func(*ultrasync.Client) (func() bool, error), report func(*ultrasync.Client)) error {
	client, s, err := opts.connect(cmd)
	if err != nil {
		return err
	}
	defer disconnect(client, requestTimeout(s))

	if err := client.Start(); err != nil {
		return WrapExitError(ExitFailure, "failed to start client", err)
	}

	done, err := submit(client)
	if err != nil {
		return WrapExitError(ExitCommandError, "command rejected", err)
	}

	// One request deadline for the command plus one sequence round to confirm.
	if !waitUntil(cmd.Context(), 2*requestTimeout(s), done) {
		return NewExitError(ExitFailure, "panel did not confirm the command")
	}
	report(client)
	return nil
}
