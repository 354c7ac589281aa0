package scpi

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/scopebridge/pkg/device"
	"github.com/scopebridge/pkg/engine"
	"github.com/scopebridge/pkg/metrics"
)

// Subject labels, also used as metric label values.
const (
	subjectDevice  = "device"
	subjectChannel = "channel"
	subjectTrigger = "trigger"
	subjectUnknown = "unknown"
)

var errIgnored = errors.New("unknown or malformed command")

// Handler dispatches control lines against the device state. Lines from all
// control connections are applied one at a time.
type Handler struct {
	state   *device.State
	eng     engine.Engine
	metrics *metrics.Metrics

	mu sync.Mutex
}

// NewHandler returns a Handler for state; m may be nil.
func NewHandler(state *device.State, m *metrics.Metrics) *Handler {
	return &Handler{
		state:   state,
		eng:     state.Engine(),
		metrics: m,
	}
}

// Handle applies one control line. It returns the reply and true for a
// query that produced one. Malformed lines and failed commands are logged
// and produce no reply.
func (h *Handler) Handle(ctx context.Context, line string) (string, bool) {
	c := Parse(line)
	if c.Name == "" {
		log.Printf("Warning: %q: no command name", line)
		h.metrics.Command(subjectUnknown, "ignored")
		return "", false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	subject, ch, ok := h.resolve(c.Subject)
	if !ok {
		h.metrics.Command(subject, "ignored")
		return "", false
	}

	var (
		reply string
		err   error
	)
	switch {
	case c.Query && subject == subjectDevice:
		reply, err = h.deviceQuery(c)
	case c.Query:
		err = errIgnored
	case subject == subjectDevice:
		err = h.deviceCommand(ctx, c)
	case subject == subjectChannel:
		err = h.channelCommand(ctx, ch, c)
	case subject == subjectTrigger:
		err = h.triggerCommand(ctx, c)
	}

	if err != nil {
		log.Printf("Warning: %q: %v", line, err)
		h.metrics.Command(subject, "ignored")
		return "", false
	}
	h.metrics.Command(subject, "ok")
	return reply, c.Query
}

// resolve maps the subject token: a single digit names a channel, TRIG the
// trigger, and no subject the device.
func (h *Handler) resolve(s string) (string, int, bool) {
	switch {
	case s == "":
		return subjectDevice, 0, true
	case s == "TRIG":
		return subjectTrigger, 0, true
	case len(s) == 1 && s[0] >= '0' && s[0] <= '9':
		idx := int(s[0] - '0')
		if _, ok := h.state.Channel(idx); !ok {
			log.Printf("Warning: invalid channel subject: %s", s)
			return subjectChannel, 0, false
		}
		return subjectChannel, idx, true
	}
	log.Printf("Warning: unknown subject: %s", s)
	return subjectUnknown, 0, false
}

func (h *Handler) deviceQuery(c Command) (string, error) {
	switch c.Name {
	case "*IDN":
		return fmt.Sprintf("%s,%s,NOSERIAL,NOVERSION", h.eng.Vendor(), h.eng.Model()), nil
	case "CHANS":
		return strconv.Itoa(len(h.state.Channels())), nil
	case "RATES":
		return h.joinOptions(engine.KeySampleRate)
	case "DEPTHS":
		return h.joinOptions(engine.KeyLimitSamples)
	case "RATE":
		return strconv.FormatUint(h.state.Rate(), 10), nil
	case "DEPTH":
		return strconv.FormatUint(h.state.Depth(), 10), nil
	case "MODE":
		return h.state.Mode().String(), nil
	}
	return "", errIgnored
}

func (h *Handler) joinOptions(key engine.Key) (string, error) {
	opts, err := engine.List[uint64](h.eng, engine.Device, key)
	if err != nil {
		return "", err
	}
	parts := make([]string, len(opts))
	for i, o := range opts {
		parts[i] = strconv.FormatUint(o, 10)
	}
	return strings.Join(parts, ","), nil
}

func (h *Handler) deviceCommand(ctx context.Context, c Command) error {
	switch c.Name {
	case "RATE", "DEPTH":
		v, err := oneUint(c)
		if err != nil {
			return err
		}
		if c.Name == "RATE" {
			err = h.state.SetRate(v)
		} else {
			err = h.state.SetDepth(v)
		}
		if err != nil {
			return err
		}
		return h.state.ForceCorrectConfig(ctx)
	case "START":
		h.state.Arm(false)
		return nil
	case "SINGLE", "FORCE":
		h.state.Arm(true)
		return nil
	case "STOP":
		h.state.StopCaptureSync(ctx)
		return nil
	}
	return errIgnored
}

func (h *Handler) channelCommand(ctx context.Context, ch int, c Command) error {
	switch c.Name {
	case "ON", "OFF":
		err := h.state.SetChannelEnabled(ctx, ch, c.Name == "ON")
		if errors.Is(err, device.ErrLastChannel) {
			log.Printf("Warning: ignoring %d:OFF, at least one channel must stay enabled", ch)
			return nil
		}
		return err
	case "COUP":
		if len(c.Args) != 1 {
			return errIgnored
		}
		var coupling uint8
		switch c.Args[0] {
		case "AC1M":
			coupling = engine.CouplingAC
		case "DC1M":
			coupling = engine.CouplingDC
		default:
			return fmt.Errorf("unknown coupling %q", c.Args[0])
		}
		if err := h.state.SetCoupling(ch, coupling); err != nil {
			return err
		}
		return h.state.ForceCorrectConfig(ctx)
	case "RANGE":
		v, err := oneFloat(c)
		if err != nil {
			return err
		}
		if _, err := h.state.SetRange(ch, v); err != nil {
			return err
		}
		return h.state.ForceCorrectConfig(ctx)
	case "OFFS":
		// Accepted but not applied: the engine has no offset control.
		_, err := oneFloat(c)
		return err
	}
	return errIgnored
}

func (h *Handler) triggerCommand(ctx context.Context, c Command) error {
	var err error
	switch c.Name {
	case "DELAY":
		var fs float64
		if fs, err = oneFloat(c); err == nil {
			err = h.state.SetTriggerDelay(fs)
		}
	case "SOU":
		if len(c.Args) != 1 || len(c.Args[0]) != 1 || c.Args[0][0] < '0' || c.Args[0][0] > '9' {
			return errIgnored
		}
		err = h.state.SetTriggerChannel(int(c.Args[0][0] - '0'))
	case "LEV":
		var v float64
		if v, err = oneFloat(c); err == nil {
			err = h.state.SetTriggerLevel(v)
		}
	case "EDGE:DIR":
		if len(c.Args) != 1 {
			return errIgnored
		}
		var e device.Edge
		if e, err = device.ParseEdge(c.Args[0]); err == nil {
			err = h.state.SetTriggerDirection(e)
		}
	default:
		return errIgnored
	}
	if err != nil {
		return err
	}
	return h.state.ForceCorrectConfig(ctx)
}

func oneFloat(c Command) (float64, error) {
	if len(c.Args) != 1 {
		return 0, errIgnored
	}
	v, err := strconv.ParseFloat(c.Args[0], 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("bad number %q", c.Args[0])
	}
	return v, nil
}

// oneUint accepts plain integers and exponent forms such as 1e9.
func oneUint(c Command) (uint64, error) {
	if len(c.Args) != 1 {
		return 0, errIgnored
	}
	if v, err := strconv.ParseUint(c.Args[0], 10, 64); err == nil {
		return v, nil
	}
	f, err := oneFloat(c)
	if err != nil || f < 0 || f != math.Trunc(f) || f > math.MaxUint64 {
		return 0, fmt.Errorf("bad integer %q", c.Args[0])
	}
	return uint64(f), nil
}
