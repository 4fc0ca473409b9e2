package rpc2

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"

	"github.com/kview/kview/pkg/kernel"
	"github.com/kview/kview/service"
	"github.com/kview/kview/service/api"
)

// RPCClient is a RPC service.Client.
type RPCClient struct {
	client *rpc.Client
}

// Ensure the implementation satisfies the interface.
var _ service.Client = &RPCClient{}

// NewClient creates a new RPCClient.
func NewClient(addr string) (*RPCClient, error) {
	client, err := jsonrpc.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return newFromRPCClient(client), nil
}

func newFromRPCClient(client *rpc.Client) *RPCClient {
	return &RPCClient{client: client}
}

// NewClientFromConn creates a new RPCClient from the given connection.
func NewClientFromConn(conn net.Conn) *RPCClient {
	return newFromRPCClient(jsonrpc.NewClient(conn))
}

func (c *RPCClient) GetVersion() (*api.GetVersionOut, error) {
	var out api.GetVersionOut
	err := c.call("GetVersion", api.GetVersionIn{}, &out)
	return &out, err
}

// readerErr turns the NotReady flag back into kernel.ErrNotReady.
func readerErr(err error, notReady bool) error {
	if err == nil && notReady {
		return kernel.ErrNotReady
	}
	return err
}

func (c *RPCClient) CheckKernel() error {
	var out CheckKernelOut
	err := c.call("CheckKernel", CheckKernelIn{}, &out)
	return readerErr(err, out.NotReady)
}

func (c *RPCClient) Threads() ([]api.Thread, error) {
	var out ThreadsOut
	err := c.call("Threads", ThreadsIn{}, &out)
	return out.Threads, readerErr(err, out.NotReady)
}

func (c *RPCClient) Timers() ([]api.Timer, error) {
	var out TimersOut
	err := c.call("Timers", TimersIn{}, &out)
	return out.Timers, readerErr(err, out.NotReady)
}

func (c *RPCClient) Trace() ([]api.TraceEvent, error) {
	var out TraceOut
	err := c.call("Trace", TraceIn{}, &out)
	return out.Events, readerErr(err, out.NotReady)
}

func (c *RPCClient) Globals() ([]api.KeyValue, error) {
	var out GlobalsOut
	err := c.call("Globals", GlobalsIn{}, &out)
	return out.Globals, readerErr(err, out.NotReady)
}

func (c *RPCClient) Statistics() ([]api.StatCounter, error) {
	var out StatisticsOut
	err := c.call("Statistics", StatisticsIn{}, &out)
	return out.Counters, readerErr(err, out.NotReady)
}

func (c *RPCClient) Detach() error {
	defer c.client.Close()
	out := new(DetachOut)
	return c.call("Detach", DetachIn{}, out)
}

func (c *RPCClient) IsMulticlient() bool {
	var out IsMulticlientOut
	c.call("IsMulticlient", IsMulticlientIn{}, &out)
	return out.IsMulticlient
}

func (c *RPCClient) Disconnect() error {
	return c.client.Close()
}

func (c *RPCClient) call(method string, args, reply interface{}) error {
	return c.client.Call("RPCServer."+method, args, reply)
}

// CallAPI calls method on the server, for scripts that need methods the
// client does not wrap.
func (c *RPCClient) CallAPI(method string, args, reply interface{}) error {
	return c.call(method, args, reply)
}
