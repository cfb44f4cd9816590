package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"icc.tech/svcport/internal/config"
	"icc.tech/svcport/internal/log"
	"icc.tech/svcport/internal/port"
	"icc.tech/svcport/internal/services/arp"
	"icc.tech/svcport/internal/services/icmp"
	"icc.tech/svcport/internal/svc"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the configured services on the port until all complete",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configFile)
		if err != nil {
			exitWithError("failed to load config", err)
		}
		if err := log.Init(cfg.Logger); err != nil {
			exitWithError("failed to init logger", err)
		}

		client, cleanup, err := buildClient(cfg)
		if err != nil {
			exitWithError("failed to open port", err)
		}
		defer cleanup()

		resolvers, pingers, services, err := buildServices(cfg)
		if err != nil {
			exitWithError("invalid service config", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(),
			os.Interrupt, syscall.SIGTERM)
		defer stop()

		engine := svc.NewCtx(client, cfg.Port.ID, svc.WithBackoff(cfg.Engine.Backoff))
		if err := engine.Run(ctx, services); err != nil {
			exitWithError("service run failed", err)
		}

		reportResults(resolvers, pingers)
	},
}

// buildClient opens the port client selected by the driver setting. The
// returned cleanup releases the client's resources and is safe to call for
// drivers without any.
func buildClient(cfg *config.Config) (port.Client, func(), error) {
	switch cfg.Port.Driver {
	case "afpacket":
		client, err := port.NewAFPacketClient(port.AFPacketConfig{
			Device:       cfg.Port.Device,
			SnapLen:      cfg.Port.SnapLen,
			BufferSizeMB: cfg.Port.BufferSizeMB,
			TimeoutMs:    cfg.Port.TimeoutMs,
		})
		if err != nil {
			return nil, nil, err
		}
		return client, func() { _ = client.Close() }, nil
	case "stub":
		return port.NewStubClient(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown port driver %q", cfg.Port.Driver)
	}
}

// buildServices turns the service sections of the config into runnable
// services, returning the typed handles separately so results can be read
// back after the run.
func buildServices(cfg *config.Config) ([]*arp.Resolver, []*icmp.Pinger, []svc.Service, error) {
	var (
		resolvers []*arp.Resolver
		pingers   []*icmp.Pinger
		services  []svc.Service
	)

	for i, ac := range cfg.Services.ARP {
		srcIP := net.ParseIP(ac.SrcIP)
		dstIP := net.ParseIP(ac.DstIP)
		if srcIP == nil || dstIP == nil {
			return nil, nil, nil, fmt.Errorf("arp[%d]: invalid IP address", i)
		}
		srcMAC, err := net.ParseMAC(ac.SrcMAC)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("arp[%d]: invalid src_mac: %w", i, err)
		}
		r := arp.New(srcIP, srcMAC, dstIP, ac.Timeout, ac.Retries)
		resolvers = append(resolvers, r)
		services = append(services, r)
	}

	for i, pc := range cfg.Services.Ping {
		srcIP := net.ParseIP(pc.SrcIP)
		dstIP := net.ParseIP(pc.DstIP)
		if srcIP == nil || dstIP == nil {
			return nil, nil, nil, fmt.Errorf("ping[%d]: invalid IP address", i)
		}
		srcMAC, err := net.ParseMAC(pc.SrcMAC)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("ping[%d]: invalid src_mac: %w", i, err)
		}
		dstMAC, err := net.ParseMAC(pc.DstMAC)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("ping[%d]: invalid dst_mac: %w", i, err)
		}
		p := icmp.New(srcIP, srcMAC, dstIP, dstMAC,
			pc.Count, pc.Interval, pc.Timeout, pc.PayloadSize)
		pingers = append(pingers, p)
		services = append(services, p)
	}

	return resolvers, pingers, services, nil
}

func reportResults(resolvers []*arp.Resolver, pingers []*icmp.Pinger) {
	for _, r := range resolvers {
		if mac, ok := r.Result(); ok {
			fmt.Printf("arp: %s is-at %s\n", r.Target(), mac)
		} else {
			fmt.Printf("arp: %s unresolved\n", r.Target())
		}
	}
	for _, p := range pingers {
		results := p.Results()
		lost := 0
		for _, res := range results {
			if res.Lost {
				lost++
				fmt.Printf("ping: %s seq=%d timeout\n", p.Target(), res.Seq)
			} else {
				fmt.Printf("ping: %s seq=%d time=%v\n", p.Target(), res.Seq, res.RTT)
			}
		}
		fmt.Printf("ping: %s %d sent, %d lost\n", p.Target(), len(results), lost)
	}
}
