package terminal

import (
	"fmt"
	"strings"

	"pkt.systems/kconsole/schema"
)

// ShellPrompt is printed by the shell channel after each response.
const ShellPrompt = "root@kernel-test:~# "

// SSHCommand opens the shell channel's login.
const SSHCommand = "ssh root@qemu-vm"

// Outcome is the scripted reaction to one command.
type Outcome struct {
	// Response is emitted verbatim.
	Response string
	// Unknown is a format applied to a non-empty command and appended to Response.
	Unknown string
	// Suffix is appended after Response and Unknown.
	Suffix string
	// Next is the state to enter; empty keeps the current state.
	Next schema.SessionState
	// Record is an extra terminal log message emitted with the outcome.
	Record string
}

// Text renders the transcript text for command.
func (o Outcome) Text(command string) string {
	var b strings.Builder
	b.WriteString(o.Response)
	if o.Unknown != "" && command != "" {
		b.WriteString(fmt.Sprintf(o.Unknown, command))
	}
	b.WriteString(o.Suffix)
	return b.String()
}

type stateTable struct {
	commands map[string]Outcome
	fallback Outcome
}

// Protocol maps (channel, state, command) to an outcome.
type Protocol struct {
	tables map[schema.ChannelKind]map[schema.SessionState]stateTable
}

// NewProtocol builds the scripted command tables. credential is the password
// accepted by the shell channel.
func NewProtocol(credential string) Protocol {
	if credential == "" {
		credential = schema.DefaultSSHCredential
	}
	notRunning := Outcome{Response: "QEMU VM is not running.\n"}
	help := Outcome{Response: "Available commands: status, start, stop, reboot\n"}
	unknown := Outcome{Unknown: "Unknown command: %s\n"}
	stop := Outcome{Response: "Stopping QEMU VM...\n", Next: schema.StateDisconnected, Record: "QEMU VM stopped."}
	reserved := stateTable{fallback: Outcome{
		Response: "MCP terminal: reserved for future MCP features.\n",
		Unknown:  "%s: command not supported here\n",
	}}

	return Protocol{tables: map[schema.ChannelKind]map[schema.SessionState]stateTable{
		schema.ChannelShell: {
			schema.StateDisconnected: {
				commands: map[string]Outcome{
					SSHCommand: {Response: "Password: ", Next: schema.StateAwaitingCredential, Record: "SSH connected to QEMU VM."},
				},
				fallback: Outcome{Response: "ssh: connect to host qemu-vm port 22: Connection refused\n", Suffix: ShellPrompt},
			},
			schema.StateAwaitingCredential: {
				commands: map[string]Outcome{
					credential: {Response: "Welcome to QEMU VM.\n", Suffix: ShellPrompt, Next: schema.StateConnected, Record: "SSH login successful."},
				},
				fallback: Outcome{Response: "Permission denied, please try again.\nPassword: "},
			},
			schema.StateConnected: {
				commands: map[string]Outcome{
					"ls":           {Response: "kernel-build  patches  output  logs  test-results\n", Suffix: ShellPrompt},
					"uname -a":     {Response: "Linux kernel-test 5.15.0-custom #1 SMP Fri Jun 13 03:42:00 EDT 2025 x86_64 x86_64 x86_64 GNU/Linux\n", Suffix: ShellPrompt},
					"dmesg | tail": {Response: "[12345.678901] Custom patch applied successfully\n[12346.123456] Module loaded: test_driver\n[12347.789012] System ready for testing\n", Suffix: ShellPrompt},
					"exit":         {Response: "Connection to qemu-vm closed.\n", Next: schema.StateDisconnected, Record: "SSH disconnected from QEMU VM."},
				},
				fallback: Outcome{Unknown: "%s: command not found\n", Suffix: ShellPrompt},
			},
		},
		schema.ChannelStatus: {
			schema.StateDisconnected: {
				commands: map[string]Outcome{
					"help":   help,
					"status": notRunning,
					"start":  {Response: "Starting QEMU VM...\n", Next: schema.StateConnected, Record: "QEMU VM started."},
					"stop":   notRunning,
					"exit":   notRunning,
					"reboot": notRunning,
				},
				fallback: unknown,
			},
			schema.StateConnected: {
				commands: map[string]Outcome{
					"help":   help,
					"status": {Response: "QEMU VM is running.\n"},
					"start":  {Response: "QEMU VM is already running.\n"},
					"stop":   stop,
					"exit":   stop,
					"reboot": {Response: "Rebooting QEMU VM...\n", Record: "QEMU VM rebooted."},
				},
				fallback: unknown,
			},
		},
		schema.ChannelReserved: {
			schema.StateDisconnected: reserved,
		},
	}}
}

// Lookup returns the outcome of command on channel in state. States without
// a table fall back to the channel's disconnected table.
func (p Protocol) Lookup(channel schema.ChannelKind, state schema.SessionState, command string) Outcome {
	states, ok := p.tables[channel]
	if !ok {
		return Outcome{}
	}
	table, ok := states[state]
	if !ok {
		table = states[schema.StateDisconnected]
	}
	if outcome, ok := table.commands[command]; ok {
		return outcome
	}
	return table.fallback
}
