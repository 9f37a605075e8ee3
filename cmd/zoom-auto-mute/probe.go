package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/qieqieplus/zoom-auto-mute/pkg/feedback"
	"github.com/qieqieplus/zoom-auto-mute/pkg/log"
	"github.com/qieqieplus/zoom-auto-mute/pkg/metrics"
	"github.com/qieqieplus/zoom-auto-mute/pkg/monitor"
	"github.com/qieqieplus/zoom-auto-mute/pkg/xapi"
)

// runProbe connects once and prints what the monitor would see for the
// active call. Useful for tuning the media trigger.
func runProbe(args []string) {
	cfg := loadConfig(args)
	log.InitWithOptions(log.Options{Level: cfg.LogLevel, Format: "text"})

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client := xapi.NewClient(xapi.OptionsFromConfig(cfg), feedback.NewBus())
	done := make(chan struct{})
	go func() {
		defer close(done)
		client.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	if err := client.WaitConnected(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Could not connect to %s: %v\n", cfg.Device.URL, err)
		return
	}
	device := xapi.NewDevice(client)

	call, err := device.ActiveCall(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Reading active call failed: %v\n", err)
		return
	}
	if call == nil {
		fmt.Println("No active call")
		return
	}

	bridge := cfg.Zoom.BridgeDomain != "" && strings.HasSuffix(call.CallbackNumber, cfg.Zoom.BridgeDomain)
	fmt.Printf("Call %s to %s (%s, %s), up %s, Zoom bridge: %t\n",
		call.ID, monitor.NormalizeRemoteURI(call.CallbackNumber), call.Protocol, call.Status, call.CallDuration(), bridge)

	if muted, err := device.MicrophoneMuted(ctx); err == nil {
		fmt.Printf("Microphone muted: %t\n", muted)
	}

	channels, err := device.MediaChannels(ctx, call.ID.String())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Reading media channels failed: %v\n", err)
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CHANNEL\tTYPE\tDIRECTION\tRATE")
	for _, ch := range channels {
		rate := "-"
		if ch.Netstat != nil {
			if bps, err := ch.Netstat.ChannelRate.Int(); err == nil {
				rate = metrics.FormatRate(bps)
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ch.ID, ch.Type, ch.Direction, rate)
	}
	tw.Flush()

	total, ok := monitor.IncomingVideoRate(channels)
	if !ok {
		fmt.Println("No incoming video statistics")
		return
	}
	fmt.Printf("Incoming video: %s (trigger %s, reached: %t)\n",
		metrics.FormatRate(total), metrics.FormatRate(cfg.Zoom.MuteMediaTrigger), total >= cfg.Zoom.MuteMediaTrigger)
}
