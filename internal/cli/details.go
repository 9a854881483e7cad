package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/st-keller/ultrasync/panel"
)

const noSystemFaults = "No System Faults"

// Details is the panel snapshot printed by the details command.
type Details struct {
	Host   string       `json:"host" yaml:"host"`
	System panel.System `json:"system" yaml:"system"`
	Areas  []panel.Area `json:"areas" yaml:"areas"`
	Zones  []panel.Zone `json:"zones" yaml:"zones"`
}

// NewDetailsCommand creates the details command.
func NewDetailsCommand(rootOpts *RootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "details",
		Short: "Show the current state of every area and zone",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", format, ValidFormats))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDetails(rootOpts, format, cmd)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format (text|json|yaml)")
	return cmd
}

func runDetails(opts *RootOptions, format string, cmd *cobra.Command) error {
	client, s, err := opts.connect(cmd)
	if err != nil {
		return err
	}
	defer disconnect(client, requestTimeout(s))

	d := Details{
		Host:   s.Host,
		System: client.System(),
		Areas:  client.Areas(),
		Zones:  client.Zones(),
	}

	out := cmd.OutOrStdout()
	if format != "text" {
		return encode(out, format, d)
	}

	fmt.Fprintln(out, renderSystem(d.System))
	faults := d.System.Faults
	if len(faults) == 0 {
		// Fault lines only arrive with an area bank fetch.
		faults = []string{noSystemFaults}
	}
	for _, fault := range faults {
		fmt.Fprintf(out, "  %s\n", fault)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, headerStyle.Render("Areas"))
	for _, a := range d.Areas {
		fmt.Fprintln(out, renderArea(a))
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, headerStyle.Render("Zones"))
	for _, z := range d.Zones {
		fmt.Fprintln(out, renderZone(z))
	}
	return nil
}
