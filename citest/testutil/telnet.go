package testutil

import (
	"fmt"
	"strings"
	"time"

	"github.com/ziutek/telnet"
)

// TelnetClient drives an interactive telnet session.
type TelnetClient struct {
	conn   *telnet.Conn
	prompt string
}

// DialTelnet connects and waits for the first prompt.
func DialTelnet(addr, prompt string) (*TelnetClient, error) {
	conn, err := telnet.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	conn.SetUnixWriteMode(true)
	c := &TelnetClient{conn: conn, prompt: prompt}
	if _, err := c.readPrompt(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("waiting for prompt: %w", err)
	}
	return c, nil
}

func (c *TelnetClient) readPrompt() (string, error) {
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	data, err := c.conn.ReadUntil(c.prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(string(data), c.prompt), nil
}

// Run sends line and returns everything printed before the next prompt.
func (c *TelnetClient) Run(line string) (string, error) {
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		return "", err
	}
	out, err := c.readPrompt()
	return strings.ReplaceAll(out, "\r\n", "\n"), err
}

// Send writes raw bytes without waiting for output.
func (c *TelnetClient) Send(data string) error {
	_, err := c.conn.Write([]byte(data))
	return err
}

// ReadPrompt waits for the next prompt and returns the output before it.
func (c *TelnetClient) ReadPrompt() (string, error) {
	out, err := c.readPrompt()
	return strings.ReplaceAll(out, "\r\n", "\n"), err
}

// Close hangs up.
func (c *TelnetClient) Close() error {
	return c.conn.Close()
}

// ReadUntil reads until s appears in the output.
func (c *TelnetClient) ReadUntil(s string, timeout time.Duration) (string, error) {
	c.conn.SetReadDeadline(time.Now().Add(timeout))
	data, err := c.conn.ReadUntil(s)
	return string(data), err
}
