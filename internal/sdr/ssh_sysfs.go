package sdr

import (
	"context"
	"fmt"
	"math"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/crypto/ssh"
)

// SSHConfig describes how to reach the radio's shell and where its IIO
// sysfs tree lives.
type SSHConfig struct {
	Host      string
	User      string
	Password  string
	KeyPath   string
	Port      int
	SysfsRoot string
	Timeout   time.Duration
}

func (c SSHConfig) withDefaults() (SSHConfig, error) {
	if c.Host == "" {
		return c, fmt.Errorf("sdr: ssh host is required")
	}
	if c.User == "" {
		c.User = "root"
	}
	if c.Port == 0 {
		c.Port = 22
	}
	if c.SysfsRoot == "" {
		c.SysfsRoot = "/sys/bus/iio/devices"
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	return c, nil
}

// AttributeWriter writes one IIO attribute. The SSH writer is the only
// production implementation.
type AttributeWriter interface {
	WriteAttribute(ctx context.Context, device, channel, attr, value string) error
}

// SSHAttributeWriter writes IIO attributes by running printf against the
// matching sysfs file over a cached SSH connection.
type SSHAttributeWriter struct {
	mu     sync.Mutex
	cfg    SSHConfig
	client *ssh.Client
}

// NewSSHAttributeWriter validates cfg. The connection is opened lazily.
func NewSSHAttributeWriter(cfg SSHConfig) (*SSHAttributeWriter, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	return &SSHAttributeWriter{cfg: cfg}, nil
}

// WriteAttribute writes value to device/channel/attr. A failed session
// drops the cached connection so the next call redials.
func (w *SSHAttributeWriter) WriteAttribute(ctx context.Context, device, channel, attr, value string) error {
	client, err := w.dial(ctx)
	if err != nil {
		return err
	}
	session, err := client.NewSession()
	if err != nil {
		w.reset()
		return fmt.Errorf("create ssh session: %w", err)
	}
	defer session.Close()

	cmd := fmt.Sprintf("printf %s > %s", shellQuote(value), attributePath(w.cfg.SysfsRoot, device, channel, attr))
	if err := session.Run(cmd); err != nil {
		return fmt.Errorf("write sysfs attribute: %w", err)
	}
	return nil
}

// Close drops the SSH connection.
func (w *SSHAttributeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.client == nil {
		return nil
	}
	err := w.client.Close()
	w.client = nil
	return err
}

func (w *SSHAttributeWriter) reset() {
	w.mu.Lock()
	if w.client != nil {
		w.client.Close()
		w.client = nil
	}
	w.mu.Unlock()
}

func (w *SSHAttributeWriter) dial(ctx context.Context) (*ssh.Client, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.client != nil {
		return w.client, nil
	}

	var auth []ssh.AuthMethod
	if w.cfg.Password != "" {
		auth = append(auth, ssh.Password(w.cfg.Password))
	}
	if w.cfg.KeyPath != "" {
		key, err := os.ReadFile(w.cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no ssh password or key configured")
	}

	addr := net.JoinHostPort(w.cfg.Host, strconv.Itoa(w.cfg.Port))
	dialer := net.Dialer{Timeout: w.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial ssh: %w", err)
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, &ssh.ClientConfig{
		User:            w.cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         w.cfg.Timeout,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake: %w", err)
	}
	w.client = ssh.NewClient(clientConn, chans, reqs)
	return w.client, nil
}

// attributePath maps an IIO attribute triple to its sysfs file. Output
// channels (altvoltage*, out_*) use the "out" prefix.
func attributePath(root, device, channel, attr string) string {
	base := path.Join(root, device)
	if channel == "" {
		return path.Join(base, attr)
	}
	prefix := "in"
	lower := strings.ToLower(channel)
	if strings.HasPrefix(lower, "altvoltage") || strings.HasPrefix(lower, "out_") {
		prefix = "out"
	}
	return path.Join(base, fmt.Sprintf("%s_%s_%s", prefix, channel, attr))
}

func shellQuote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}

// LO attribute of the AD936x receive synthesizer. The phy is iio:device1
// on stock Pluto firmware.
const (
	DefaultLODevice = "iio:device1"
	loChannel       = "altvoltage0"
	loAttr          = "frequency"
)

// SysfsTuner retunes the receive LO to CarrierHz plus the requested offset.
// Writes are retried with exponential backoff.
type SysfsTuner struct {
	ctx        context.Context
	writer     AttributeWriter
	device     string
	carrierHz  float64
	maxRetries uint64
	newBackOff func() backoff.BackOff

	mu     sync.Mutex
	lastHz int64
}

// NewSysfsTuner binds a tuner to writer. ctx bounds every retry loop.
// An empty device selects DefaultLODevice.
func NewSysfsTuner(ctx context.Context, writer AttributeWriter, device string, carrierHz float64) (*SysfsTuner, error) {
	if writer == nil {
		return nil, fmt.Errorf("sdr: attribute writer is required")
	}
	if carrierHz <= 0 {
		return nil, fmt.Errorf("sdr: carrier frequency must be positive")
	}
	if device == "" {
		device = DefaultLODevice
	}
	return &SysfsTuner{
		ctx:        ctx,
		writer:     writer,
		device:     device,
		carrierHz:  carrierHz,
		maxRetries: 4,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 50 * time.Millisecond
			b.MaxElapsedTime = 2 * time.Second
			return b
		},
	}, nil
}

// SetFrequency writes the LO frequency in whole Hz.
func (t *SysfsTuner) SetFrequency(offsetHz float64) error {
	hz := int64(math.Round(t.carrierHz + offsetHz))
	value := strconv.FormatInt(hz, 10)
	op := func() error {
		return t.writer.WriteAttribute(t.ctx, t.device, loChannel, loAttr, value)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(t.newBackOff(), t.maxRetries), t.ctx)
	if err := backoff.Retry(op, b); err != nil {
		return fmt.Errorf("set rx lo to %d Hz: %w", hz, err)
	}
	t.mu.Lock()
	t.lastHz = hz
	t.mu.Unlock()
	return nil
}

// LastFrequency returns the last LO frequency written successfully.
func (t *SysfsTuner) LastFrequency() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastHz
}
