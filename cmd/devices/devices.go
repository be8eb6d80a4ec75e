// Package devices lists the device directory.
package devices

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/audiostream/internal/app"
	"github.com/tphakala/audiostream/internal/audiostream"
	"github.com/tphakala/audiostream/internal/audiostream/format"
	"github.com/tphakala/audiostream/internal/audiostream/host"
	"github.com/tphakala/audiostream/internal/cpuspec"
)

// probeConcurrency bounds simultaneous device probes; some backends serialise
// device opens internally anyway.
const probeConcurrency = 4

// Command creates the devices command.
func Command(rt *app.Runtime) *cobra.Command {
	var probe bool
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List audio devices",
		Long:  "List the devices of the selected backend with channel counts, default rate and latencies.",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := rt.OpenHost()
			if err != nil {
				return err
			}
			defer api.Close()

			var rates map[host.DeviceID][]float64
			if probe {
				if rates, err = probeRates(api); err != nil {
					return err
				}
			}
			return render(cmd.OutOrStdout(), api, rates)
		},
	}
	cmd.Flags().BoolVar(&probe, "probe", false, "Probe every standard sample rate on each device")
	return cmd
}

// probeRates checks the standard rates on every device concurrently.
func probeRates(api *audiostream.HostAPI) (map[host.DeviceID][]float64, error) {
	devices := api.Devices()
	results := make([][]float64, len(devices))

	var g errgroup.Group
	g.SetLimit(probeConcurrency)
	for i, d := range devices {
		g.Go(func() error {
			results[i] = supportedRates(api, d)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[host.DeviceID][]float64, len(devices))
	for i, d := range devices {
		out[d.ID] = results[i]
	}
	return out, nil
}

func supportedRates(api *audiostream.HostAPI, d audiostream.DeviceInfo) []float64 {
	var in, out *audiostream.Parameters
	if d.MaxOutputChannels > 0 {
		out = &audiostream.Parameters{Device: d.ID, Channels: min(d.MaxOutputChannels, 2), Format: host.Int16}
	} else if d.MaxInputChannels > 0 {
		in = &audiostream.Parameters{Device: d.ID, Channels: min(d.MaxInputChannels, 2), Format: host.Int16}
	} else {
		return nil
	}

	var rates []float64
	for _, rate := range format.SampleRateSearchOrder {
		if api.IsFormatSupported(in, out, rate) == nil {
			rates = append(rates, rate)
		}
	}
	slices.Sort(rates)
	return rates
}

func render(w io.Writer, api *audiostream.HostAPI, rates map[host.DeviceID][]float64) error {
	fmt.Fprintf(w, "Backend: %s\n", api.Driver().Name())
	fmt.Fprintf(w, "CPU:     %s\n\n", cpuspec.Get())

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tIN\tOUT\tRATE\tLATENCY\tDEFAULT")
	for _, d := range api.Devices() {
		low, high := api.DefaultLatencies(host.Output)
		if d.MaxOutputChannels == 0 {
			low, high = api.DefaultLatencies(host.Input)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%g\t%v/%v\t%s\n",
			d.ID, d.Name,
			channels(d.MaxInputChannels, d.InputChannelsUnverified),
			channels(d.MaxOutputChannels, d.OutputChannelsUnverified),
			d.DefaultSampleRate, low, high, defaults(d))
		if r := rates[d.ID]; len(r) > 0 {
			fmt.Fprintf(tw, "\t  rates: %s\t\t\t\t\t\n", joinRates(r))
		}
	}
	return tw.Flush()
}

func channels(n int, unverified bool) string {
	if unverified {
		return strconv.Itoa(n) + "?"
	}
	return strconv.Itoa(n)
}

func defaults(d audiostream.DeviceInfo) string {
	var s []string
	if d.IsDefaultInput {
		s = append(s, "input")
	}
	if d.IsDefaultOutput {
		s = append(s, "output")
	}
	return strings.Join(s, ",")
}

func joinRates(rates []float64) string {
	s := make([]string, len(rates))
	for i, r := range rates {
		s[i] = strconv.FormatFloat(r, 'f', -1, 64)
	}
	return strings.Join(s, " ")
}
