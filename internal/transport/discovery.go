package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Discovery runs over UDP broadcast on the local network. The tutor
// advertises a small beacon on a fixed interval; students listen and surface
// provisional display records. Discovery auto-stops after a bounded duration
// if left running.

// Descriptor is the structured beacon body. Older peers broadcast a plain
// display name instead; the receiving side treats descriptor fields as
// unavailable until a SESSION_INFO message supplies them.
type Descriptor struct {
	DisplayName     string `json:"displayName"`
	ProtocolVersion int    `json:"protocolVersion"`
	Port            int    `json:"port"`
}

// ProtocolVersion is the current beacon format version.
const ProtocolVersion = 2

// Discovered is a provisional display record for one advertising tutor.
// Descriptor is nil for legacy plain-name beacons.
type Discovered struct {
	Addr        string // tutor host, from the UDP source address
	DisplayName string
	Descriptor  *Descriptor
}

// DialAddr returns the transport address to join, or "" when the beacon did
// not carry a port (legacy beacon).
func (d Discovered) DialAddr() string {
	if d.Descriptor == nil || d.Descriptor.Port == 0 {
		return ""
	}
	return net.JoinHostPort(d.Addr, fmt.Sprintf("%d", d.Descriptor.Port))
}

// Advertiser broadcasts session beacons while the tutor is advertising.
type Advertiser struct {
	beaconPort int
	interval   time.Duration
	logger     *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewAdvertiser creates an advertiser broadcasting to beaconPort.
func NewAdvertiser(beaconPort int, interval time.Duration, logger *zap.Logger) *Advertiser {
	return &Advertiser{beaconPort: beaconPort, interval: interval, logger: logger}
}

// Start begins broadcasting the descriptor. A socket failure is returned to
// the caller and not retried. Calling Start while already advertising is an
// error.
func (a *Advertiser) Start(desc Descriptor) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return ErrAlreadyAdvertising
	}

	payload, err := json.Marshal(desc)
	if err != nil {
		return fmt.Errorf("marshal beacon: %w", err)
	}

	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{
		IP:   net.IPv4bcast,
		Port: a.beaconPort,
	})
	if err != nil {
		return fmt.Errorf("advertise start: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	go func() {
		defer func() { _ = conn.Close() }()
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			if _, err := conn.Write(payload); err != nil {
				a.logger.Debug("beacon write failed", zap.Error(err))
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()

	a.logger.Info("advertising session",
		zap.String("display_name", desc.DisplayName),
		zap.Int("port", desc.Port))
	return nil
}

// Stop ends broadcasting. Idempotent.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
}

// Discoverer listens for beacons and surfaces discovered tutors.
type Discoverer struct {
	beaconPort int
	timeout    time.Duration
	logger     *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewDiscoverer creates a discoverer listening on beaconPort. Discovery
// auto-stops after timeout.
func NewDiscoverer(beaconPort int, timeout time.Duration, logger *zap.Logger) *Discoverer {
	return &Discoverer{beaconPort: beaconPort, timeout: timeout, logger: logger}
}

// Start listens for beacons and delivers each discovered tutor on the
// returned channel. The channel closes when discovery stops, whether by
// Stop, context cancellation or the auto-stop timeout. A socket failure is
// returned to the caller and not retried.
func (d *Discoverer) Start(ctx context.Context) (<-chan Discovered, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return nil, ErrAlreadyDiscovering
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: d.beaconPort})
	if err != nil {
		return nil, fmt.Errorf("discovery start: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	d.cancel = cancel

	results := make(chan Discovered, 16)
	go func() {
		<-runCtx.Done()
		_ = conn.Close()
	}()
	go func() {
		defer close(results)
		defer d.clearCancel()

		buf := make([]byte, 2048)
		for {
			n, src, err := conn.ReadFromUDP(buf)
			if err != nil {
				return // socket closed by the watcher above
			}
			payload := make([]byte, n)
			copy(payload, buf[:n])

			discovered := parseBeacon(src.IP.String(), payload)
			select {
			case results <- discovered:
			default:
				// A slow consumer drops beacons; the tutor rebroadcasts.
			}
		}
	}()

	d.logger.Info("discovery started", zap.Duration("timeout", d.timeout))
	return results, nil
}

func (d *Discoverer) clearCancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancel = nil
}

// Stop ends discovery early. Idempotent.
func (d *Discoverer) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// parseBeacon decodes a beacon payload. Structured descriptors are JSON; a
// payload that does not parse is treated as a legacy plain display name.
func parseBeacon(host string, payload []byte) Discovered {
	var desc Descriptor
	if err := json.Unmarshal(payload, &desc); err == nil && desc.DisplayName != "" {
		return Discovered{Addr: host, DisplayName: desc.DisplayName, Descriptor: &desc}
	}
	return Discovered{Addr: host, DisplayName: string(payload)}
}
