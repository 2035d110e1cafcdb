package playback

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
)

// Descriptor numbers of the pipe ends inherited by the player
const (
	RequestFD = 3
	AckFD     = 4
)

// Process is a running player with the controller's ends of both pipes
type Process struct {
	cmd      *exec.Cmd
	requests *os.File // write end
	acks     *os.File // read end

	waitErr  error
	exited   chan struct{}
	killOnce sync.Once
}

// StartProcess launches bin with the request read end as fd 3 and the ack
// write end as fd 4. The child ends are closed in this process right after
// the start so that either side sees EOF when the other goes away.
func StartProcess(bin string, args ...string) (*Process, error) {
	reqR, reqW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("request pipe: %w", err)
	}
	ackR, ackW, err := os.Pipe()
	if err != nil {
		reqR.Close()
		reqW.Close()
		return nil, fmt.Errorf("ack pipe: %w", err)
	}

	cmd := exec.Command(bin, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{reqR, ackW}

	startErr := cmd.Start()
	reqR.Close()
	ackW.Close()
	if startErr != nil {
		reqW.Close()
		ackR.Close()
		return nil, fmt.Errorf("start %s: %w", bin, startErr)
	}

	p := &Process{
		cmd:      cmd,
		requests: reqW,
		acks:     ackR,
		exited:   make(chan struct{}),
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.exited)
	}()
	return p, nil
}

// Requests is the controller's write end of the request pipe
func (p *Process) Requests() *os.File { return p.requests }

// Acks is the controller's read end of the ack pipe
func (p *Process) Acks() *os.File { return p.acks }

// Pid returns the player's process id
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Exited is closed once the player has been reaped
func (p *Process) Exited() <-chan struct{} { return p.exited }

// Kill terminates the player without a handshake, reaps it and closes the
// controller's pipe ends. It is safe to call more than once.
func (p *Process) Kill() error {
	var err error
	p.killOnce.Do(func() {
		if kerr := p.cmd.Process.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
			err = fmt.Errorf("kill player: %w", kerr)
		}
		<-p.exited
		p.requests.Close()
		p.acks.Close()
	})
	return err
}

// InheritedPipes returns the player's ends of the pipes set up by StartProcess
func InheritedPipes() (requests, acks *os.File, err error) {
	requests = os.NewFile(RequestFD, "requests")
	acks = os.NewFile(AckFD, "acks")
	for _, f := range []*os.File{requests, acks} {
		if _, serr := f.Stat(); serr != nil {
			return nil, nil, fmt.Errorf("pipe descriptors %d and %d not inherited: %w", RequestFD, AckFD, serr)
		}
	}
	return requests, acks, nil
}
