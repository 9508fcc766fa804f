package gojabridge

import (
	"context"

	"github.com/dop251/goja"

	"github.com/joeycumines/go-ffibridge"
)

// TransportFailed is the custom status code of a response to a request whose
// JavaScript handler threw.
const TransportFailed = -1

// Transport performs engine HTTP requests with a JavaScript function. The
// engine holds it weakly: requests arriving after the caller drops the
// Transport are skipped.
type Transport struct {
	runtime *Runtime
	fn      goja.Callable
	cb      *ffibridge.WeakCallback[Transport, ffibridge.HTTPRequestEvent]
}

// NewTransport wraps the global function name, called as name(request,
// respond) where request is {method, url, body, headers, timeoutMs} and
// respond({status, body, headers}) completes it.
func (r *Runtime) NewTransport(ctx context.Context, name string) (*Transport, error) {
	fn, err := r.global(ctx, name)
	if err != nil {
		return nil, err
	}
	t := &Transport{runtime: r, fn: fn}
	t.cb, err = ffibridge.NewWeakCallback(r.scheduler, t, (*Transport).handle)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Send is called by the engine with a borrowed request.
func (t *Transport) Send(req ffibridge.HTTPRequest, reqCtx ffibridge.RequestContext) bool {
	return ffibridge.OnHTTPRequest(t.cb, req, reqCtx)
}

// Close unsubscribes the transport.
func (t *Transport) Close() { t.cb.Free() }

func (t *Transport) handle(ev ffibridge.HTTPRequestEvent) {
	vm := t.runtime.vm
	headers := make([]any, len(ev.Request.Headers))
	for i, h := range ev.Request.Headers {
		headers[i] = vm.NewArray(string(h.Name), string(h.Value))
	}
	req := vm.NewObject()
	_ = req.Set("method", ev.Request.Method.String())
	_ = req.Set("url", string(ev.Request.URL))
	_ = req.Set("body", string(ev.Request.Body))
	_ = req.Set("headers", vm.NewArray(headers...))
	_ = req.Set("timeoutMs", ev.Request.TimeoutMS)

	var responded bool
	respond := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		if responded {
			return goja.Undefined()
		}
		var resp ffibridge.HTTPResponse
		if arg := call.Argument(0); !goja.IsUndefined(arg) && !goja.IsNull(arg) {
			obj := arg.ToObject(vm)
			if v := obj.Get("status"); v != nil {
				resp.StatusCode = int(v.ToInteger())
			}
			if v := obj.Get("body"); v != nil && !goja.IsUndefined(v) {
				resp.Body = []byte(v.String())
			}
			if v := obj.Get("headers"); v != nil && !goja.IsUndefined(v) {
				var pairs [][]string
				if err := vm.ExportTo(v, &pairs); err != nil {
					panic(vm.NewGoError(err))
				}
				for _, p := range pairs {
					if len(p) == 2 {
						resp.Headers = append(resp.Headers, ffibridge.HTTPHeader{Name: []byte(p[0]), Value: []byte(p[1])})
					}
				}
			}
		}
		responded = true
		ev.Context.Complete(resp)
		return goja.Undefined()
	})

	if _, err := t.fn(goja.Undefined(), req, respond); err != nil && !responded {
		t.runtime.logger.Warning().
			Str("url", string(ev.Request.URL)).
			Err(err).
			Log("transport threw")
		ev.Context.Complete(ffibridge.HTTPResponse{CustomStatusCode: TransportFailed, Body: []byte(err.Error())})
	}
}
