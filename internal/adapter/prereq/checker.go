// Package prereq inspects the host before installation: the container
// runtime, the compose tool, CPU and memory minimums and port availability.
package prereq

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"

	"setupwiz/internal/domain"
	"setupwiz/internal/infra/config"
	"setupwiz/internal/infra/tracer"
)

// Pinger is the part of the Docker API the checker needs.
type Pinger interface {
	Ping(ctx context.Context) (types.Ping, error)
}

// CommandRunner runs a binary and returns its combined output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Checker implements domain.PrerequisiteChecker.
type Checker struct {
	cfg      config.PrerequisitesConfig
	docker   Pinger
	run      CommandRunner
	lookPath func(string) (string, error)
	cpus     func() int
	memory   func() (int, error)
	portFree func(port int) bool
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Checker.
type Option func(*Checker)

// WithDocker makes the runtime check ping the daemon instead of running
// "<runtime> version".
func WithDocker(p Pinger) Option { return func(c *Checker) { c.docker = p } }

// WithCommandRunner replaces os/exec.
func WithCommandRunner(run CommandRunner, lookPath func(string) (string, error)) Option {
	return func(c *Checker) {
		c.run = run
		c.lookPath = lookPath
	}
}

// WithResources replaces the CPU and memory probes.
func WithResources(cpus func() int, memoryMB func() (int, error)) Option {
	return func(c *Checker) {
		c.cpus = cpus
		c.memory = memoryMB
	}
}

// WithPortProbe replaces the listen-based port probe.
func WithPortProbe(free func(port int) bool) Option {
	return func(c *Checker) { c.portFree = free }
}

// WithClock overrides the report timestamp source.
func WithClock(now func() time.Time) Option { return func(c *Checker) { c.now = now } }

// NewChecker creates a checker for cfg.
func NewChecker(cfg config.PrerequisitesConfig, logger *slog.Logger, opts ...Option) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Checker{
		cfg:      cfg,
		run:      execRunner,
		lookPath: exec.LookPath,
		cpus:     runtime.NumCPU,
		memory:   hostMemoryMB,
		portFree: portFree,
		now:      time.Now,
		logger:   logger,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// NewDockerClient connects to the daemon from the environment
// (DOCKER_HOST and friends).
func NewDockerClient() (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return cli, nil
}

// Run checks every prerequisite. Individual probe failures end up in the
// report; Run itself only fails when ctx is done.
func (c *Checker) Run(ctx context.Context) (domain.PrerequisiteReport, error) {
	return tracer.Do(ctx, "prereq.Run", func(ctx context.Context) (domain.PrerequisiteReport, error) {
		rep := domain.PrerequisiteReport{
			MinCPUs:     c.cfg.MinCPUs,
			MinMemoryMB: c.cfg.MinMemoryMB,
		}
		rep.Runtime = c.checkRuntime(ctx)
		rep.Compose = c.checkCompose(ctx)
		if err := ctx.Err(); err != nil {
			return domain.PrerequisiteReport{}, err
		}

		rep.CPUs = c.cpus()
		mem, err := c.memory()
		if err != nil {
			c.logger.Warn("memory probe failed", "error", err)
		}
		rep.MemoryMB = mem

		for _, p := range c.cfg.Ports {
			rep.Ports = append(rep.Ports, domain.PortStatus{Port: p, Available: c.portFree(p)})
		}
		rep.CheckedAt = c.now()

		c.logger.Info("prerequisites checked",
			"runtime", rep.Runtime.Available,
			"compose", rep.Compose.Available,
			"cpus", rep.CPUs,
			"memory_mb", rep.MemoryMB,
			"shortfalls", len(rep.ResourceShortfalls()),
		)
		return rep, nil
	}, tracer.StringAttr("prereq.runtime", c.cfg.RuntimeBinary))
}

func (c *Checker) checkRuntime(ctx context.Context) domain.ToolStatus {
	st := domain.ToolStatus{Name: c.cfg.RuntimeBinary}
	if c.docker != nil {
		ping, err := c.docker.Ping(ctx)
		if err != nil {
			st.Detail = err.Error()
			if client.IsErrConnectionFailed(err) {
				st.Detail = "daemon not reachable"
			}
			return st
		}
		st.Available = true
		st.Version = "api " + ping.APIVersion
		return st
	}
	return c.checkBinary(ctx, st, c.cfg.RuntimeBinary, "version", "--format", "{{.Client.Version}}")
}

// checkCompose accepts either a standalone binary ("docker-compose") or a
// plugin invocation ("docker compose").
func (c *Checker) checkCompose(ctx context.Context) domain.ToolStatus {
	st := domain.ToolStatus{Name: c.cfg.ComposeBinary}
	fields := strings.Fields(c.cfg.ComposeBinary)
	if len(fields) == 0 {
		st.Detail = "not configured"
		return st
	}
	args := append(fields[1:], "version", "--short")
	return c.checkBinary(ctx, st, fields[0], args...)
}

func (c *Checker) checkBinary(ctx context.Context, st domain.ToolStatus, bin string, args ...string) domain.ToolStatus {
	if _, err := c.lookPath(bin); err != nil {
		st.Detail = "not found in PATH"
		return st
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	out, err := c.run(ctx, bin, args...)
	if err != nil {
		st.Detail = strings.TrimSpace(firstLine(string(out)))
		if st.Detail == "" {
			st.Detail = err.Error()
		}
		return st
	}
	st.Available = true
	st.Version = strings.TrimPrefix(strings.TrimSpace(firstLine(string(out))), "v")
	return st
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

// portFree reports whether port can be bound on all interfaces.
func portFree(port int) bool {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

// hostMemoryMB reads MemTotal from /proc/meminfo.
func hostMemoryMB() (int, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, fmt.Errorf("read meminfo: %w", err)
	}
	defer f.Close()
	return parseMemInfo(f)
}

func parseMemInfo(r io.Reader) (int, error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		v, ok := strings.CutPrefix(sc.Text(), "MemTotal:")
		if !ok {
			continue
		}
		kb, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(v), " kB"))
		if err != nil {
			return 0, fmt.Errorf("parse MemTotal: %w", err)
		}
		return kb / 1024, nil
	}
	if err := sc.Err(); err != nil {
		return 0, err
	}
	return 0, errors.New("MemTotal not found")
}

var _ domain.PrerequisiteChecker = (*Checker)(nil)
