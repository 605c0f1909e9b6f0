package process

import (
	"context"
	"encoding/binary"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"github.com/stuxnet147/codex-agent-protocol/internal/rterrors"
)

// DockerStrategy launches the backend inside a container, for deployments
// that want to isolate the backend's filesystem and network from the host.
type DockerStrategy struct {
	cli   *client.Client
	Image string
}

// NewDockerStrategy dials the Docker daemon at host (empty uses the
// default socket) and returns a Strategy that launches containers from
// image.
func NewDockerStrategy(host, image string) (*DockerStrategy, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, rterrors.Wrap(rterrors.KindSpawnFailed, "failed to create docker client", err)
	}
	return &DockerStrategy{cli: cli, Image: image}, nil
}

// Launch creates, starts, and attaches to a container running opts.Command.
// The container has no TTY so stdout/stderr arrive demultiplexed per
// Docker's 8-byte frame header protocol, required for line-delimited JSON
// to read cleanly.
func (s *DockerStrategy) Launch(ctx context.Context, opts LaunchOptions) (Child, error) {
	containerCfg := &container.Config{
		Image:        s.Image,
		Cmd:          append([]string{opts.Command}, opts.Args...),
		Env:          opts.Env,
		WorkingDir:   opts.Dir,
		OpenStdin:    true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          false,
	}
	hostCfg := &container.HostConfig{AutoRemove: true}

	resp, err := s.cli.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, "")
	if err != nil {
		return nil, rterrors.Wrap(rterrors.KindSpawnFailed, "failed to create backend container", err)
	}

	if err := s.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, rterrors.Wrap(rterrors.KindSpawnFailed, "failed to start backend container", err)
	}

	attached, err := s.cli.ContainerAttach(ctx, resp.ID, container.AttachOptions{
		Stream: true, Stdin: true, Stdout: true, Stderr: true,
	})
	if err != nil {
		return nil, rterrors.Wrap(rterrors.KindSpawnFailed, "failed to attach to backend container", err)
	}

	stdoutReader, stdoutWriter := io.Pipe()
	go func() {
		defer stdoutWriter.Close()
		demultiplex(attached.Reader, stdoutWriter)
	}()

	return &dockerChild{
		cli:         s.cli,
		containerID: resp.ID,
		conn:        attached.Conn,
		stdout:      stdoutReader,
	}, nil
}

type dockerChild struct {
	cli         *client.Client
	containerID string
	conn        io.Closer
	stdout      io.Reader
}

func (c *dockerChild) Stdin() io.WriteCloser {
	if wc, ok := c.conn.(io.WriteCloser); ok {
		return wc
	}
	return nil
}

func (c *dockerChild) Stdout() io.Reader { return c.stdout }

// Stderr is folded into Stdout by demultiplex, matching the teacher's
// rationale that protocol errors on stderr should stay visible alongside
// stdout framing.
func (c *dockerChild) Stderr() io.Reader { return nil }

func (c *dockerChild) Wait() (int, error) {
	statusCh, errCh := c.cli.ContainerWait(context.Background(), c.containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return -1, err
	case status := <-statusCh:
		return int(status.StatusCode), nil
	}
}

func (c *dockerChild) Signal(name string) error {
	sig := "TERM"
	if name == "KILL" {
		sig = "KILL"
	}
	return c.cli.ContainerKill(context.Background(), c.containerID, sig)
}

// demultiplex reads Docker's multiplexed stream format (8-byte header: type
// byte, 3 reserved bytes, big-endian uint32 frame size) and writes stdout
// and stderr frames both into writer.
func demultiplex(reader io.Reader, writer io.Writer) {
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(reader, header); err != nil {
			return
		}
		streamType := header[0]
		size := binary.BigEndian.Uint32(header[4:8])
		if size == 0 {
			continue
		}
		data := make([]byte, size)
		if _, err := io.ReadFull(reader, data); err != nil {
			return
		}
		if streamType == 1 || streamType == 2 {
			writer.Write(data)
		}
	}
}
