package commands

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"babaphone/internal/audio"
	"babaphone/internal/connectivity"
	"babaphone/internal/core/domain"
	"babaphone/internal/discovery"
	"babaphone/internal/hotspot"
	"babaphone/internal/relayclient"
	"babaphone/internal/session"
	"babaphone/internal/transport"
	"babaphone/pkg/config"
	"babaphone/pkg/logger"
	"babaphone/pkg/retry"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var childCmd = &cobra.Command{
	Use:   "child",
	Short: "Capture sound and stream it to a parent",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMonitor(cmd, session.ModeChild)
	},
}

var parentCmd = &cobra.Command{
	Use:   "parent",
	Short: "Find a child device and play its sound",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMonitor(cmd, session.ModeParent)
	},
}

func init() {
	childCmd.Flags().Float64("sensitivity", -1, "Level a frame must exceed to be sent, 0..1")
	childCmd.Flags().Int("port", 0, "Stream port")
	childCmd.Flags().Bool("no-hotspot", false, "Never open a hotspot")

	parentCmd.Flags().Float64("volume", -1, "Playback volume, 0..1")
	parentCmd.Flags().String("peer", "", "Name of the child to listen to (default: first found)")
	parentCmd.Flags().String("address", "", "Connect to host:port directly instead of browsing")
}

func runMonitor(cmd *cobra.Command, mode session.Mode) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyModeFlags(cmd, cfg)

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	name := cfg.Monitor.DeviceName
	if name == "" {
		if host, err := os.Hostname(); err == nil {
			name = host
		}
	}
	sessCfg, err := session.NewConfig(mode, name, cfg.Monitor.Sensitivity, cfg.Monitor.Volume)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts, err := buildOptions(cfg, mode, name, log)
	if err != nil {
		return err
	}

	want, _ := cmd.Flags().GetString("peer")
	m := &monitor{log: log, want: want, ended: make(chan struct{}, 1)}
	opts.Callbacks = m.callbacks(ctx)
	ctrl := session.NewController(opts, log)
	m.ctrl = ctrl

	if mode == session.ModeParent {
		if addr, _ := cmd.Flags().GetString("address"); addr != "" {
			peer, err := peerFromAddress(addr)
			if err != nil {
				return err
			}
			sessCfg.SetSelectedPeer(peer)
		}
	}

	if err := ctrl.Start(ctx, sessCfg); err != nil {
		return err
	}
	log.Infow("BabaPhone running", "mode", mode, "name", name, "attachment", ctrl.Attachment())

	select {
	case <-ctx.Done():
		log.Info("shutting down...")
	case <-m.ended:
		return fmt.Errorf("session ended")
	}
	return ctrl.Stop()
}

func applyModeFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if v, err := flags.GetFloat64("sensitivity"); err == nil && v >= 0 {
		cfg.Monitor.Sensitivity = v
	}
	if v, err := flags.GetFloat64("volume"); err == nil && v >= 0 {
		cfg.Monitor.Volume = v
	}
	if v, err := flags.GetInt("port"); err == nil && v > 0 {
		cfg.Transport.Port = v
	}
	if v, err := flags.GetBool("no-hotspot"); err == nil && v {
		cfg.Hotspot.Enabled = false
	}
}

func buildOptions(cfg *config.Config, mode session.Mode, name string, log *zap.SugaredLogger) (session.Options, error) {
	opts := session.Options{
		Input:  audio.NewExecInput(cfg.Audio.CaptureCommand),
		Output: audio.NewExecOutput(cfg.Audio.PlaybackCommand),
		Transport: transport.Config{
			Port:        cfg.Transport.Port,
			DialTimeout: cfg.Transport.DialTimeout,
			IOTimeout:   cfg.Transport.IOTimeout,
		},
		FrameSamples:      cfg.Audio.FrameSamples,
		CaptureQueue:      cfg.Audio.CaptureQueue,
		PlaybackQueue:     cfg.Audio.PlaybackQueue,
		RelayPush:         cfg.RelayClient.Push,
		RelayPollInterval: cfg.RelayClient.PollInterval,
	}

	zc := discovery.NewZeroconfService(discovery.Config{
		ServiceType:  cfg.Discovery.ServiceType,
		Domain:       cfg.Discovery.Domain,
		StaleTimeout: cfg.Discovery.StaleTimeout,
	}, log)
	opts.Advertiser, opts.Browser = zc, zc

	if mode == session.ModeChild && cfg.Hotspot.Enabled {
		nm := hotspot.NewNMCLI(cfg.Hotspot.Interface, execRunner)
		opts.Hotspot = hotspot.NewController(nm, cfg.Hotspot.SSIDPrefix, log)
	}
	var hosting func() bool
	if opts.Hotspot != nil {
		hosting = opts.Hotspot.Active
	}
	opts.Connectivity = connectivity.NewMonitor(connectivity.NewInterfaceProbe(hosting), cfg.Monitor.ProbeInterval, log)

	if cfg.RelayClient.Enabled {
		id := cfg.Monitor.DeviceID
		if id == "" {
			id = uuid.New().String()
		}
		typ := domain.DeviceTypeChild
		if mode == session.ModeParent {
			typ = domain.DeviceTypeParent
		}
		client, err := relayclient.New(relayclient.Config{
			BaseURL:           cfg.RelayClient.URL,
			APIKey:            cfg.RelayClient.APIKey,
			DeviceID:          domain.DeviceID(id),
			DeviceType:        typ,
			DeviceName:        name,
			HeartbeatInterval: cfg.RelayClient.HeartbeatInterval,
			ServerTimeout:     cfg.RelayClient.ServerTimeout,
			RequestTimeout:    cfg.RelayClient.RequestTimeout,
			Retry:             retry.DefaultConfig(),
		}, log)
		if err != nil {
			return opts, err
		}
		opts.Relay = client
	}
	return opts, nil
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// monitor prints what a running session reports and, for a parent, picks
// the first matching child.
type monitor struct {
	ctrl  *session.Controller
	log   *zap.SugaredLogger
	want  string
	once  sync.Once
	ended chan struct{}
}

func (m *monitor) callbacks(ctx context.Context) session.Callbacks {
	return session.Callbacks{
		OnDeviceFound: func(rec discovery.DeviceRecord) {
			fmt.Printf("found %s\n", rec)
			if m.want != "" && rec.Name != m.want {
				return
			}
			m.once.Do(func() {
				// dialing must not hold up the event goroutine
				go func() {
					if err := m.ctrl.SelectPeer(ctx, rec); err != nil {
						m.log.Warnw("could not listen to device", "device", rec.Name, "error", err)
					}
				}()
			})
		},
		OnDeviceLost: func(rec discovery.DeviceRecord) {
			fmt.Printf("lost %s\n", rec)
		},
		OnHotspot: func(st hotspot.Status) {
			if st.State == hotspot.StateActive {
				fmt.Printf("hotspot %q is up, password %s\n", st.Config.SSID, st.Config.Password)
			}
		},
		OnAttachment: func(att connectivity.Attachment) {
			m.log.Infow("network changed", "attachment", att)
		},
		OnError: func(err error) {
			m.log.Errorw("session error", "error", err)
		},
		OnStateChange: func(s session.State) {
			if s != session.StateStopped {
				return
			}
			select {
			case m.ended <- struct{}{}:
			default:
			}
		},
	}
}

// peerFromAddress builds a record for a child at host:port.
func peerFromAddress(addr string) (discovery.DeviceRecord, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return discovery.DeviceRecord{}, fmt.Errorf("%w: address %q: %v", domain.ErrInvalidArgument, addr, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return discovery.DeviceRecord{}, fmt.Errorf("%w: port %q", domain.ErrInvalidArgument, portStr)
	}
	return discovery.DeviceRecord{Name: host, Address: host, Port: uint16(port)}, nil
}
