// Package runtime instantiates modules and invokes their exports.
//
// # Quick Start
//
//	ctx := context.Background()
//	rt, err := runtime.New(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	reg := linker.NewRegistry()
//	print, _ := rt.Bind(runtime.HostFunc{
//	    Params: []value.Kind{value.KindI32},
//	    Handler: func(ctx context.Context, c *runtime.Context, args []value.Value) ([]value.Value, error) {
//	        fmt.Println(args[0].I32())
//	        return nil, nil
//	    },
//	})
//	reg.Register("env", "print", print)
//
//	inst, err := rt.Instantiate(ctx, wasmBytes, reg.Finalize())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer inst.Close(ctx)
//
//	out, err := inst.Call(ctx, "add", []value.Value{value.I32(1), value.I32(2)})
//
// # Instrumentation
//
// InstantiateWithOptions compiles with a middleware chain. With metering
// on, the points limit starts at GasLimit and a call that exceeds it fails
// with errors.KindBudgetExhausted. With breakpoints on, Interrupt makes
// the running or next call fail with errors.KindInterrupted until Resume.
// With opcode tracing on, LastLocation reports the last instruction the
// previous call reached.
//
// # Context
//
// Every instance has a Context carrying a host data slot and access to
// the instance memory. Host functions receive the Context of the instance
// that called them.
//
// # Thread Safety
//
// Runtime is safe for concurrent use. Calls on one Instance must be
// serialized by the caller.
package runtime
