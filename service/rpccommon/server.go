package rpccommon

import (
	"errors"
	"io"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"reflect"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/kview/kview/pkg/logflags"
	"github.com/kview/kview/pkg/version"
	"github.com/kview/kview/service"
	"github.com/kview/kview/service/api"
	"github.com/kview/kview/service/debugger"
	"github.com/kview/kview/service/rpc2"
)

// APIVersion is the version of the API served.
const APIVersion = 2

// ServerImpl implements a JSON-RPC server exposing a Debugger.
type ServerImpl struct {
	// config is all the information necessary to start the debugger and server.
	config *service.Config
	// listener is used to serve HTTP.
	listener net.Listener
	// stopChan is used to stop the listener goroutine.
	stopChan chan struct{}
	stopOnce sync.Once
	// debugger is the debugger service.
	debugger *debugger.Debugger
	// s2 is APIv2 server.
	s2 *rpc2.RPCServer
	// methodMap contains the served methods.
	methodMap map[string]*methodType

	disconnectOnce sync.Once
	log            logflags.Logger
}

// RPCServer implements the RPC method calls common to all versions of the API.
type RPCServer struct {
	s *ServerImpl
}

type methodType struct {
	method    reflect.Method
	Rcvr      reflect.Value
	ArgType   reflect.Type
	ReplyType reflect.Type
}

func rpcLog() logflags.Logger {
	return logflags.RPCLogger()
}

// NewServer creates a new RPCServer.
func NewServer(config *service.Config) *ServerImpl {
	return &ServerImpl{
		config:   config,
		listener: config.Listener,
		stopChan: make(chan struct{}),
		log:      rpcLog(),
	}
}

// Stop stops the JSON-RPC server and detaches the debugger.
func (s *ServerImpl) Stop() error {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.listener.Close()
	})
	if s.debugger == nil {
		return nil
	}
	return s.debugger.Detach()
}

// Run starts a debugger and exposes it with a JSON-RPC server. The
// debugger itself can be stopped with the `detach` API. Run returns once
// the server is accepting connections.
func (s *ServerImpl) Run() error {
	var err error
	if s.debugger, err = debugger.New(&s.config.Debugger); err != nil {
		return err
	}

	s.s2 = rpc2.NewServer(s.config, s.debugger)
	s.methodMap = map[string]*methodType{}
	suitableMethods(s.s2, s.methodMap, s.log)
	suitableMethods(&RPCServer{s}, s.methodMap, s.log)

	go func() {
		defer s.listener.Close()
		for {
			c, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.stopChan:
					// We were supposed to exit, do nothing and return
					return
				default:
					s.log.Errorf("accept: %v", err)
					s.disconnected()
					return
				}
			}
			if s.config.CheckLocalConnUser && !canAccept(s.listener.Addr(), c.RemoteAddr()) {
				c.Close()
				continue
			}
			go s.serveJSONCodec(c)
			if !s.config.AcceptMulti {
				break
			}
		}
	}()
	return nil
}

// disconnected closes DisconnectChan, once.
func (s *ServerImpl) disconnected() {
	s.disconnectOnce.Do(func() {
		if s.config.DisconnectChan != nil {
			close(s.config.DisconnectChan)
		}
	})
}

// Precompute the reflect type for error.  Can't use error directly
// because Typeof takes an empty interface value.  This is annoying.
var typeOfError = reflect.TypeOf((*error)(nil)).Elem()

// Is this an exported - upper case - name?
func isExported(name string) bool {
	rune, _ := utf8.DecodeRuneInString(name)
	return unicode.IsUpper(rune)
}

// Is this type exported or a builtin?
func isExportedOrBuiltinType(t reflect.Type) bool {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	// PkgPath will be non-empty even for an exported type,
	// so we need to check the type name as well.
	return isExported(t.Name()) || t.PkgPath() == ""
}

// Fills methods map with the methods of receiver that should be made
// available through the RPC interface.
// These are all the public methods of rcvr that have the signature:
//
//	func (rcvr ReceiverType) Method(in InputType, out *ReplyType) error
func suitableMethods(rcvr interface{}, methods map[string]*methodType, log logflags.Logger) {
	typ := reflect.TypeOf(rcvr)
	rcvrv := reflect.ValueOf(rcvr)
	sname := reflect.Indirect(rcvrv).Type().Name()
	if sname == "" {
		log.Errorf("rpc.Register: no service name for type %s", typ)
		return
	}
	for m := 0; m < typ.NumMethod(); m++ {
		method := typ.Method(m)
		mname := method.Name
		mtype := method.Type
		// method must be exported
		if method.PkgPath != "" {
			continue
		}
		// Method needs three ins: (receiver, args, *reply)
		if mtype.NumIn() != 3 {
			continue
		}
		argType := mtype.In(1)
		if !isExportedOrBuiltinType(argType) {
			log.Warnf("%s argument type not exported: %v", mname, argType)
			continue
		}
		replyType := mtype.In(2)
		if replyType.Kind() != reflect.Ptr || !isExportedOrBuiltinType(replyType) {
			log.Warnf("method %s reply type not an exported pointer: %v", mname, replyType)
			continue
		}
		// The return type of the method must be error.
		if mtype.NumOut() != 1 || mtype.Out(0) != typeOfError {
			log.Warnf("method %s does not return error", mname)
			continue
		}
		methods[sname+"."+mname] = &methodType{method: method, ArgType: argType, ReplyType: replyType, Rcvr: rcvrv}
	}
}

func (s *ServerImpl) serveJSONCodec(conn io.ReadWriteCloser) {
	defer func() {
		if !s.config.AcceptMulti {
			s.disconnected()
		}
	}()

	codec := jsonrpc.NewServerCodec(conn)
	defer codec.Close()
	var req rpc.Request
	var resp rpc.Response
	for {
		req = rpc.Request{}
		err := codec.ReadRequestHeader(&req)
		if err != nil {
			if err != io.EOF {
				s.log.Errorf("rpc: %v", err)
			}
			return
		}

		mtype, ok := s.methodMap[req.ServiceMethod]
		if !ok {
			s.log.Errorf("rpc: can't find method %s", req.ServiceMethod)
			// the body still has to be consumed
			codec.ReadRequestBody(nil)
			resp = rpc.Response{}
			s.sendResponse(&req, &resp, nil, codec, "can't find method "+req.ServiceMethod)
			continue
		}

		var argv, replyv reflect.Value

		// Decode the argument value.
		argIsValue := false // if true, need to indirect before calling.
		if mtype.ArgType.Kind() == reflect.Ptr {
			argv = reflect.New(mtype.ArgType.Elem())
		} else {
			argv = reflect.New(mtype.ArgType)
			argIsValue = true
		}
		// argv guaranteed to be a pointer now.
		if err = codec.ReadRequestBody(argv.Interface()); err != nil {
			return
		}
		if argIsValue {
			argv = argv.Elem()
		}

		if logflags.RPC() {
			s.log.Debugf("<- %s(%T%+v)", req.ServiceMethod, argv.Interface(), argv.Interface())
		}
		replyv = reflect.New(mtype.ReplyType.Elem())
		returnValues := mtype.method.Func.Call([]reflect.Value{mtype.Rcvr, argv, replyv})
		errmsg := ""
		if errInter := returnValues[0].Interface(); errInter != nil {
			errmsg = errInter.(error).Error()
		}
		if logflags.RPC() {
			s.log.Debugf("-> %T%+v error: %q", replyv.Interface(), replyv.Interface(), errmsg)
		}
		resp = rpc.Response{}
		s.sendResponse(&req, &resp, replyv.Interface(), codec, errmsg)

		if req.ServiceMethod == "RPCServer.Detach" && errmsg == "" {
			s.stopOnce.Do(func() {
				close(s.stopChan)
				s.listener.Close()
			})
			s.disconnected()
			return
		}
	}
}

// A value sent as a placeholder for the server's response value when the server
// receives an invalid request. It is never decoded by the client since the Response
// contains an error when it is used.
var invalidRequest = struct{}{}

func (s *ServerImpl) sendResponse(req *rpc.Request, resp *rpc.Response, reply interface{}, codec rpc.ServerCodec, errmsg string) {
	resp.ServiceMethod = req.ServiceMethod
	if errmsg != "" {
		resp.Error = errmsg
		reply = invalidRequest
	}
	resp.Seq = req.Seq
	if err := codec.WriteResponse(resp, reply); err != nil {
		s.log.Errorf("writing response: %v", err)
	}
}

var errNoDebugger = errors.New("debugger not started")

// GetVersion returns the version of kview as well as the API version
// currently served.
func (s *RPCServer) GetVersion(args api.GetVersionIn, out *api.GetVersionOut) error {
	if s.s.debugger == nil {
		return errNoDebugger
	}
	out.KviewVersion = version.KviewVersion.String()
	out.APIVersion = APIVersion
	out.Backend = s.s.debugger.Backend()
	out.BackendVersion = s.s.debugger.BackendVersion()
	return nil
}
