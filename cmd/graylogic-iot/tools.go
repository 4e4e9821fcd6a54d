package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-iot/internal/client"
	"github.com/nerrad567/gray-logic-iot/internal/distributor"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-iot/internal/shadow"
	"github.com/nerrad567/gray-logic-iot/internal/transport"
)

// defaultWait bounds how long shadow commands wait for a response.
const defaultWait = 10 * time.Second

// session is a short-lived connection used by the one-shot commands.
// Its ctx ends, with the poll loop's error as cause, when polling stops.
type session struct {
	ctx      context.Context
	log      *logging.Logger
	mqtt     *mqtt.Client
	dist     *distributor.Distributor
	requests *client.Client

	cancel context.CancelCauseFunc
	done   chan struct{}
}

// openSession loads config, connects and starts polling.
func openSession(ctx context.Context) (*session, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	mqttClient.SetLogger(log)

	dist, err := newDistributor(cfg, log)
	if err != nil {
		_ = mqttClient.Close()
		return nil, err
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	s := &session{
		ctx:      runCtx,
		log:      log,
		mqtt:     mqttClient,
		dist:     dist,
		requests: newClient(cfg, mqttClient),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		cancel(dist.Run(runCtx, mqttClient))
	}()
	return s, nil
}

func (s *session) close() {
	s.cancel(nil)
	<-s.done
	if err := s.mqtt.Close(); err != nil {
		s.log.Error("error closing MQTT", "error", err)
	}
}

// stopped converts the end of ctx into the command's result: nil for a
// requested shutdown, otherwise the cause.
func stopped(ctx context.Context) error {
	cause := context.Cause(ctx)
	if cause == nil || isShutdown(cause) {
		return nil
	}
	return cause
}

func newPublishCmd() *cobra.Command {
	var (
		qos      int
		retained bool
	)
	cmd := &cobra.Command{
		Use:   "publish <topic> <payload>",
		Short: "Publish a single message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := transport.ParseQoS(qos)
			if err != nil {
				return err
			}

			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			topic, payload := args[0], []byte(args[1])
			if retained {
				err = s.mqtt.PublishRetained(s.ctx, topic, level, payload)
			} else {
				err = s.requests.Publish(s.ctx, topic, level, payload)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %d bytes to %s\n", len(payload), topic)
			return nil
		},
	}
	cmd.Flags().IntVarP(&qos, "qos", "q", 0, "quality of service (0, 1 or 2)")
	cmd.Flags().BoolVarP(&retained, "retained", "r", false, "ask the broker to retain the message")
	return cmd
}

func newListenCmd() *cobra.Command {
	var (
		qos   int
		count int
	)
	cmd := &cobra.Command{
		Use:   "listen <topic>...",
		Short: "Subscribe and print incoming publishes until interrupted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := transport.ParseQoS(qos)
			if err != nil {
				return err
			}

			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			// Open the handle first so nothing published after the
			// subscription is acknowledged is missed.
			h := s.dist.NewHandle()
			defer h.Close()

			for _, topic := range args {
				if err := s.requests.Subscribe(s.ctx, topic, level); err != nil {
					return err
				}
			}
			return listen(s.ctx, h, cmd.OutOrStdout(), count)
		},
	}
	cmd.Flags().IntVarP(&qos, "qos", "q", 0, "subscription quality of service (0, 1 or 2)")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "exit after this many messages (0 for no limit)")
	return cmd
}

// listen prints publishes from h as "<topic> <payload>" lines.
func listen(ctx context.Context, h *distributor.Handle, out io.Writer, count int) error {
	seen := 0
	for {
		ev, err := h.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return stopped(ctx)
			}
			if errors.Is(err, distributor.ErrHandleClosed) {
				return nil
			}
			return err
		}
		if ev.Kind != transport.KindPublish {
			continue
		}
		fmt.Fprintf(out, "%s %s\n", ev.Topic, ev.Payload)

		seen++
		if count > 0 && seen >= count {
			return nil
		}
	}
}

func newShadowCmd() *cobra.Command {
	var (
		thing string
		wait  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "shadow",
		Short: "Request, update or delete a thing's shadow document",
	}
	cmd.PersistentFlags().StringVarP(&thing, "thing", "t", "", "thing name (default shadow.thing_name from config)")
	cmd.PersistentFlags().DurationVarP(&wait, "wait", "w", defaultWait, "how long to wait for the response")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "get",
			Short: "Fetch the broker's shadow document",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return shadowRequest(cmd, thing, wait, shadow.ActionGet, func(ctx context.Context, m *shadow.Manager) error {
					return m.Get(ctx)
				})
			},
		},
		&cobra.Command{
			Use:   "update <key> <json>",
			Short: "Report a single key's value",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				value := json.RawMessage(args[1])
				if !json.Valid(value) {
					return fmt.Errorf("value for %q is not valid JSON", args[0])
				}
				return shadowRequest(cmd, thing, wait, shadow.ActionUpdate, func(ctx context.Context, m *shadow.Manager) error {
					return m.Update(ctx, args[0], value)
				})
			},
		},
		&cobra.Command{
			Use:   "delete",
			Short: "Delete the broker's shadow document",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return shadowRequest(cmd, thing, wait, shadow.ActionDelete, func(ctx context.Context, m *shadow.Manager) error {
					return m.Delete(ctx)
				})
			},
		},
	)
	return cmd
}

// errShadowTimeout is returned when no response arrives within --wait.
var errShadowTimeout = errors.New("no shadow response before timeout")

// shadowRequest starts a manager, issues one request and prints the
// accepted document, or returns the rejection.
func shadowRequest(cmd *cobra.Command, thing string, wait time.Duration, action shadow.Action, issue func(context.Context, *shadow.Manager) error) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if thing == "" {
		thing = cfg.Shadow.ThingName
	}
	if thing == "" {
		return errors.New("thing name required: set --thing or shadow.thing_name")
	}

	s, err := openSession(cmd.Context())
	if err != nil {
		return err
	}
	defer s.close()
	ctx := s.ctx

	responses := make(chan shadow.Response, 1)
	deliver := func(r shadow.Response) {
		if r.Action != action {
			return
		}
		select {
		case responses <- r:
		default:
		}
	}

	mgr, err := shadow.New(shadow.Config{
		ThingName:       thing,
		QoS:             transport.QoS(cfg.Shadow.QoS),
		ResponseTimeout: wait,
	}, s.requests, s.dist, shadow.Handlers{
		GetAccepted:    deliver,
		GetRejected:    deliver,
		UpdateAccepted: deliver,
		UpdateRejected: deliver,
		DeleteAccepted: deliver,
		DeleteRejected: deliver,
	}, s.log.With("component", "shadow", "thing", thing))
	if err != nil {
		return err
	}
	if err := mgr.Start(ctx); err != nil {
		return err
	}
	defer mgr.Stop()

	if err := issue(ctx, mgr); err != nil {
		return err
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case r := <-responses:
		if err := r.Error(); err != nil {
			return err
		}
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\n", r.Raw)
		return err
	case <-timer.C:
		return fmt.Errorf("%w (%s after %v)", errShadowTimeout, action, wait)
	case <-ctx.Done():
		return stopped(ctx)
	}
}
