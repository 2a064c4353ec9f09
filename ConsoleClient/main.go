/*
 * Copyright (c) 2026, Psiphon Inc.
 * All rights reserved.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package main

import (
	"io"
	"os"
	"time"

	"github.com/Psiphon-Labs/psiphon-tcp-client/tcpclient"
	"github.com/Psiphon-Labs/psiphon-tcp-client/tcpclient/common"
	"github.com/Psiphon-Labs/psiphon-tcp-client/tcpclient/common/errors"
	"github.com/spf13/cobra"
)

const (
	greeting          = "hello\n"
	receiveBufferSize = 64
	receiveRetryDelay = 10 * time.Millisecond
)

type clientFlags struct {
	configFilename string
	nonBlocking    bool
	noDelay        bool
}

func main() {
	err := newRootCommand(os.Stdout).Execute()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCommand(output io.Writer) *cobra.Command {

	var flags clientFlags

	command := &cobra.Command{
		Use:   "ConsoleClient [flags] host port",
		Short: "Connect to host and port, send a greeting and print the reply",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {

			// Argument errors print usage; runtime errors don't.
			cmd.SilenceUsage = true

			return runClient(flags, args[0], args[1], output)
		},
	}

	command.SetOut(output)

	command.Flags().StringVar(&flags.configFilename, "config", "", "configuration input file")
	command.Flags().BoolVar(&flags.nonBlocking, "nonblocking", false, "use a non-blocking socket")
	command.Flags().BoolVar(&flags.noDelay, "nodelay", false, "set TCP_NODELAY")

	return command
}

func loadConfig(flags clientFlags) (*tcpclient.Config, error) {

	configJSON := []byte("{}")
	if flags.configFilename != "" {
		var err error
		configJSON, err = os.ReadFile(flags.configFilename)
		if err != nil {
			return nil, errors.Trace(err)
		}
	}

	config, err := tcpclient.LoadConfig(configJSON)
	if err != nil {
		return nil, errors.Trace(err)
	}

	// Flags can only enable these options.
	if flags.nonBlocking {
		config.NonBlocking = true
	}
	if flags.noDelay {
		config.NoDelay = true
	}

	return config, nil
}

func runClient(flags clientFlags, host, port string, output io.Writer) error {

	config, err := loadConfig(flags)
	if err != nil {
		return errors.TraceMsg(err, "error loading configuration file")
	}

	logger, err := tcpclient.NewContextLogger(config)
	if err != nil {
		return errors.TraceMsg(err, "error initializing logger")
	}
	defer logger.Close()

	err = exchange(config, logger, host, port, output)
	if err != nil {
		logger.WithTraceFields(common.LogFields{"error": err}).Error("client failed")
		return errors.Trace(err)
	}

	return nil
}

func exchange(
	config *tcpclient.Config,
	logger common.Logger,
	host, port string,
	output io.Writer) error {

	socket, err := tcpclient.MakeStreamSocket(config)
	if err != nil {
		return errors.Trace(err)
	}

	client, err := tcpclient.NewTCPClient(config, logger, socket)
	if err != nil {
		socket.Close()
		return errors.Trace(err)
	}
	defer client.Close()

	err = client.Connect(host, port)
	if err != nil {
		return errors.Trace(err)
	}

	n, _, err := client.Send([]byte(greeting))
	if err != nil {
		return errors.Trace(err)
	}
	if n != len(greeting) {
		return errors.Tracef("short send: %d of %d bytes", n, len(greeting))
	}

	reply, err := receiveReply(client, config)
	if err != nil {
		return errors.Trace(err)
	}

	_, err = output.Write(reply)
	return errors.Trace(err)
}

// receiveReply makes a single read of up to receiveBufferSize bytes. On a
// non-blocking socket, it retries would-block reads until data arrives or
// the connect poll timeout elapses.
func receiveReply(client *tcpclient.TCPClient, config *tcpclient.Config) ([]byte, error) {

	buffer := make([]byte, receiveBufferSize)

	deadline := time.Now().Add(
		time.Duration(*config.ConnectPollTimeoutMilliseconds) * time.Millisecond)

	for {
		n, status, err := client.Receive(buffer)
		if err != nil {
			return nil, errors.Trace(err)
		}
		switch status {
		case tcpclient.TransferProgressed, tcpclient.TransferPeerClosed:
			return buffer[:n], nil
		}
		if time.Now().After(deadline) {
			return nil, errors.TraceNew("timed out waiting for reply")
		}
		time.Sleep(receiveRetryDelay)
	}
}
