package jupyter

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
)

// ConnectionInfo stores the contents of a kernel connection file.
// The definition is compatible with github.com/Scusemua/go-utils/config, so it can be embedded in options.
type ConnectionInfo struct {
	IP              string `json:"ip" name:"ip" description:"The IP address of the kernel."`
	ControlPort     int    `json:"control_port" name:"control-port" description:"The port for control messages."`
	ShellPort       int    `json:"shell_port" name:"shell-port" description:"The port for shell messages."`
	StdinPort       int    `json:"stdin_port" name:"stdin-port" description:"The port for stdin messages."`
	HBPort          int    `json:"hb_port" name:"hb-port" description:"The port for heartbeat messages."`
	IOPubPort       int    `json:"iopub_port" name:"iopub-port" description:"The port of the kernel's iopub PUB socket. The client connects a SUB socket to it."`
	Transport       string `json:"transport" name:"transport" description:"The ZeroMQ transport, usually 'tcp'."`
	SignatureScheme string `json:"signature_scheme" name:"signature-scheme" description:"The message signature scheme, e.g., 'hmac-sha256'."`
	Key             string `json:"key" name:"key" description:"The key used to sign messages. Empty disables signing."`
	KernelName      string `json:"kernel_name,omitempty"`
}

// LoadConnectionInfo reads a Jupyter connection file.
func LoadConnectionInfo(path string) (*ConnectionInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read connection file \"%s\": %w", path, err)
	}

	var info ConnectionInfo
	if err = json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("could not parse connection file \"%s\": %w", path, err)
	}

	if info.Transport == "" {
		info.Transport = "tcp"
	}

	return &info, nil
}

// Address returns the ZeroMQ endpoint for the given port.
func (info *ConnectionInfo) Address(port int) string {
	if info.Transport == "ipc" {
		return fmt.Sprintf("ipc://%s-%d", info.IP, port)
	}

	return fmt.Sprintf("%s://%s:%d", info.Transport, info.IP, port)
}

func (info *ConnectionInfo) String() string {
	m, err := json.Marshal(info)
	if err != nil {
		panic(err)
	}

	return string(m)
}

// PrettyString is the same as String, except that PrettyString calls json.MarshalIndent instead of json.Marshal.
func (info *ConnectionInfo) PrettyString(indentSize int) string {
	m, err := json.MarshalIndent(info, "", strings.Repeat(" ", indentSize))
	if err != nil {
		panic(err)
	}

	return string(m)
}
