package cli

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/MrEthical07/umbra/cryptoengine"
	"github.com/MrEthical07/umbra/handshake"
	"github.com/MrEthical07/umbra/metrics/export/prometheus"
	"github.com/spf13/cobra"
)

type handshakeOptions struct {
	captchaOut   string
	solvePoW     bool
	printMetrics bool
}

func (a *app) newHandshakeCmd() *cobra.Command {
	var opts handshakeOptions
	cmd := &cobra.Command{
		Use:   "handshake",
		Short: "Establish a session with the server",
		Long: `Generates a keypair, introduces the server and asks for the captcha
answer. The captcha image is written to --captcha-out and the answer is
read from standard input. A session that is already established is
reported and left alone.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runHandshake(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.captchaOut, "captcha-out", "captcha.png", "where to write the captcha image")
	cmd.Flags().BoolVar(&opts.solvePoW, "pow", false, "solve the proof of work before answering the captcha")
	cmd.Flags().BoolVar(&opts.printMetrics, "print-metrics", false, "print client metrics in Prometheus text format when done")
	return cmd
}

func (a *app) runHandshake(cmd *cobra.Command, opts handshakeOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	c, err := a.client(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	in := bufio.NewReader(cmd.InOrStdin())
	answer := func(_ context.Context, ch handshake.Challenge) (string, error) {
		if err := os.WriteFile(opts.captchaOut, ch.CaptchaPNG, 0o600); err != nil {
			return "", fmt.Errorf("write captcha: %w", err)
		}
		fmt.Fprintf(out, "captcha written to %s", opts.captchaOut)
		if !ch.ExpiresAt.IsZero() {
			fmt.Fprintf(out, " (session expires %s)", ch.ExpiresAt.Format(time.RFC3339))
		}
		fmt.Fprint(out, "\nanswer: ")
		return readAnswer(in)
	}

	solved := false
	for c.State() != handshake.CaptchaVerified {
		if c.State() == handshake.Introduced && opts.solvePoW && !solved {
			nonce, err := c.SolvePoW(ctx, "", func(p cryptoengine.Progress) {
				fmt.Fprintf(out, "\rproof of work %5.1f%%", p.Percentage)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\nproof of work nonce %d\n", nonce)
			solved = true
		}

		if _, err := c.Step(ctx, answer); err != nil {
			switch {
			case errors.Is(err, handshake.ErrCaptchaFormat):
				fmt.Fprintln(out, "the answer must be six digits, try again")
				continue
			case errors.Is(err, cryptoengine.ErrWrongCaptcha):
				fmt.Fprintln(out, "wrong answer, try again")
				continue
			}
			return err
		}
	}

	sid, err := c.SessionID(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "session %s established\n", sid)
	if exp, err := c.Expiry(ctx); err == nil && !exp.IsZero() {
		fmt.Fprintf(out, "expires %s\n", exp.Format(time.RFC3339))
	}

	if opts.printMetrics {
		fmt.Fprint(out, prometheus.NewExporter(c).Render())
	}
	return nil
}

func readAnswer(in *bufio.Reader) (string, error) {
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read answer: %w", err)
	}
	return strings.TrimSpace(line), nil
}

type powOptions struct {
	challenge   string
	salt        string
	memoryMB    uint32
	iterations  uint32
	parallelism uint32
}

func (a *app) newPoWCmd() *cobra.Command {
	var opts powOptions
	cmd := &cobra.Command{
		Use:   "pow",
		Short: "Solve a standalone proof-of-work puzzle on the worker pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runPoW(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.challenge, "challenge", "", "hash prefix to find, base64 without padding")
	f.StringVar(&opts.salt, "salt", "", "argon2id salt, base64 without padding")
	f.Uint32Var(&opts.memoryMB, "memory-mb", 12, "argon2id memory in MiB")
	f.Uint32Var(&opts.iterations, "iterations", 2, "argon2id iterations")
	f.Uint32Var(&opts.parallelism, "parallelism", 1, "argon2id parallelism")
	_ = cmd.MarkFlagRequired("challenge")
	_ = cmd.MarkFlagRequired("salt")
	return cmd
}

func (a *app) runPoW(cmd *cobra.Command, opts powOptions) error {
	challenge, err := decodeFlag("challenge", opts.challenge)
	if err != nil {
		return err
	}
	salt, err := decodeFlag("salt", opts.salt)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	c, err := a.client(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	nonce, err := c.SolveProofOfWork(ctx, handshake.PoWRequest{
		Challenge: challenge,
		Salt:      salt,
		Params: cryptoengine.PoWParams{
			MemoryMB:    opts.memoryMB,
			Iterations:  opts.iterations,
			Parallelism: opts.parallelism,
		},
	}, nil)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), nonce)
	return nil
}

func decodeFlag(name, value string) ([]byte, error) {
	b, err := cryptoengine.Encoding.DecodeString(value)
	if err != nil {
		// Accept padded input too.
		if b, err = base64.StdEncoding.DecodeString(value); err != nil {
			return nil, fmt.Errorf("--%s is not valid base64: %w", name, err)
		}
	}
	return b, nil
}
