package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/ptltl/monitor/adapters/dnsmasq"
	"github.com/ptltl/monitor/internal/adapterconfig"
	"github.com/ptltl/monitor/internal/bridge"
	"github.com/spf13/cobra"
)

var bridgeDemoCmd = &cobra.Command{
	Use:   "bridge-demo <spec-path>",
	Short: "Drive a monitor subprocess over the bridge protocol with synthetic DNS traffic",
	Long: `bridge-demo exercises the same subprocess protocol a fuzzing harness
would use: it spawns this binary as a child ("monitor <spec-path> dnsmasq"),
builds a handful of synthetic DNS query/response packets with adapters/dnsmasq,
and feeds them across stdin/stdout exactly as internal/bridge does for a real
harness integration.`,
	Args: cobra.ExactArgs(1),
	RunE: runBridgeDemo,
}

func runBridgeDemo(cmd *cobra.Command, args []string) error {
	specPath := args[0]

	cfg := (*adapterconfig.Config)(nil)
	if adapterConfig != "" {
		raw, err := os.ReadFile(adapterConfig)
		if err != nil {
			return fmt.Errorf("monitor bridge-demo: reading adapter config: %w", err)
		}
		cfg, err = adapterconfig.Load(raw)
		if err != nil {
			return fmt.Errorf("monitor bridge-demo: %w", err)
		}
	}

	a := dnsmasq.New()
	a.RingCapacity = cfg.DNSRingCapacityOr(adapterconfig.DefaultDNSRingCapacity)

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("monitor bridge-demo: resolving own binary: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b, err := bridge.Spawn(ctx, self, specPath, "dnsmasq")
	if err != nil {
		return fmt.Errorf("monitor bridge-demo: spawning monitor subprocess: %w", err)
	}
	defer b.Close()

	query := buildDNSQuery(1, "example.test")
	if err := b.EmitEvent(a.BuildRequestPredLine(query)); err != nil {
		return fmt.Errorf("monitor bridge-demo: emitting query: %w", err)
	}

	response := buildDNSResponse(1, "example.test")
	if err := b.EmitEvent(a.BuildResponsePredLine(response)); err != nil {
		return fmt.Errorf("monitor bridge-demo: emitting response: %w", err)
	}

	// Replay the same query/response pair to demonstrate the ring's
	// cache_hit detection (an earlier answered query of the same qtype).
	if err := b.EmitEvent(a.BuildRequestPredLine(query)); err != nil {
		return fmt.Errorf("monitor bridge-demo: emitting replayed query: %w", err)
	}
	if err := b.EmitEvent(a.BuildResponsePredLine(response)); err != nil {
		return fmt.Errorf("monitor bridge-demo: emitting replayed response: %w", err)
	}

	violated, err := b.EndSession()
	if err != nil {
		return fmt.Errorf("monitor bridge-demo: ending session: %w", err)
	}

	if violated {
		fmt.Println("bridge-demo: session ended with a reported violation")
	} else {
		fmt.Println("bridge-demo: session ended clean")
	}
	return nil
}

func buildDNSQuery(id uint16, name string) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint16(buf[0:2], id)
	binary.BigEndian.PutUint16(buf[2:4], 0x0100) // RD set
	binary.BigEndian.PutUint16(buf[4:6], 1)       // qdcount
	buf = append(buf, encodeDNSName(name)...)
	buf = append(buf, 0x00, 0x01) // QTYPE A
	buf = append(buf, 0x00, 0x01) // QCLASS IN
	return buf
}

func buildDNSResponse(id uint16, name string) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint16(buf[0:2], id)
	binary.BigEndian.PutUint16(buf[2:4], 0x8180) // QR|RD|RA, NOERROR
	binary.BigEndian.PutUint16(buf[4:6], 1)       // qdcount
	binary.BigEndian.PutUint16(buf[6:8], 1)       // ancount
	buf = append(buf, encodeDNSName(name)...)
	buf = append(buf, 0x00, 0x01) // QTYPE A
	buf = append(buf, 0x00, 0x01) // QCLASS IN
	// One minimal answer record pointing back at the question name.
	buf = append(buf, 0xC0, 0x0C) // name pointer to offset 12
	buf = append(buf, 0x00, 0x01) // TYPE A
	buf = append(buf, 0x00, 0x01) // CLASS IN
	buf = append(buf, 0x00, 0x00, 0x00, 0x3C) // TTL 60
	buf = append(buf, 0x00, 0x04) // RDLENGTH
	buf = append(buf, 93, 184, 216, 34) // RDATA
	return buf
}

func encodeDNSName(name string) []byte {
	var out []byte
	start := 0
	for i := 0; i <= len(name); i++ {
		if i == len(name) || name[i] == '.' {
			label := name[start:i]
			out = append(out, byte(len(label)))
			out = append(out, label...)
			start = i + 1
		}
	}
	out = append(out, 0x00)
	return out
}
