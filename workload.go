// ════════════════════════════════════════════════════════════════════════════════════════════════
// Demo Workload
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: SMP Kernel Core
// Component: Processes exercising every wait object kind
//
// Description:
//   Each process is a small state machine over the syscall surface. Objects are created by the
//   process's own threads, so the process owns them and its cleanup releases them. Tokens reach
//   spawned threads by value through SpawnThread.
//
// Notes:
//   - Outcome fields are written by whichever core runs the thread and read by main only after
//     the machine has stopped.
// ════════════════════════════════════════════════════════════════════════════════════════════════

package main

import (
	"smpcore/constants"
	"smpcore/ici"
	"smpcore/kernel"
	"smpcore/kobj"
	"smpcore/status"
	"smpcore/utils"
)

// demoIrqLine is the device line the driver process binds.
const demoIrqLine = 5

// spinSteps is how many dispatch passes a compute thread stays runnable.
const spinSteps = 2000

// workloadProcess pairs a launched process with a reporter for what its
// threads observed.
type workloadProcess struct {
	p       *kernel.Process
	outcome func() string
}

type stepFn func(last kernel.Result) kernel.Syscall

// sequence runs steps in order, one per program step. Each step sees the
// result of the previous call.
func sequence(steps ...stepFn) kernel.Program {
	i := 0
	return kernel.ProgramFunc(func(last kernel.Result) kernel.Syscall {
		if i >= len(steps) {
			return nil
		}
		fn := steps[i]
		i++
		return fn(last)
	})
}

func call(c kernel.Syscall) stepFn {
	return func(kernel.Result) kernel.Syscall { return c }
}

func waitOn(tok kobj.Token, timeout uint64) *kernel.Wait {
	return &kernel.Wait{Objects: []kobj.Token{tok}, Timeout: timeout}
}

// launchWorkload builds and launches every demo process.
func launchWorkload(s *kernel.Scheduler) ([]workloadProcess, error) {
	builders := []struct {
		name  string
		build func() ([]kernel.Program, []ici.Mask, func() string)
	}{
		{"handoff", handoffProcess},
		{"alarm", alarmProcess},
		{"mailbox", mailboxProcess},
		{"semaphore", semaphoreProcess},
		{"compute", computeProcess},
		{"driver", driverProcess},
	}

	out := make([]workloadProcess, 0, len(builders))
	for _, b := range builders {
		progs, masks, outcome := b.build()
		p, err := s.CreateProcess(b.name)
		if err != nil {
			return out, err
		}
		for i, prog := range progs {
			var mask ici.Mask
			if masks != nil {
				mask = masks[i]
			}
			if _, err := s.AddThread(p, prog, mask); err != nil {
				return out, err
			}
		}
		if err := s.Launch(p); err != nil {
			return out, err
		}
		out = append(out, workloadProcess{p: p, outcome: outcome})
	}
	return out, nil
}

// ============================================================================
// GATE AND NOTIFY HAND-OFF
// ============================================================================

func handoffProcess() ([]kernel.Program, []ici.Mask, func() string) {
	var gate, note kobj.Token
	gateStatus, noteStatus := status.Aborted, status.Aborted
	signaller := func(gate, note kobj.Token) kernel.Program {
		return sequence(
			call(&kernel.Sleep{Ticks: 3}),
			call(&kernel.SetGate{Object: gate, Open: true}),
			call(&kernel.Sleep{Ticks: 2}),
			call(&kernel.SignalNotify{Object: note}),
			call(&kernel.ExitThread{}),
		)
	}
	waiter := sequence(
		call(&kernel.Create{Kind: kobj.KindGate}),
		func(last kernel.Result) kernel.Syscall {
			gate = last.Token
			return &kernel.Create{Kind: kobj.KindNotify}
		},
		func(last kernel.Result) kernel.Syscall {
			note = last.Token
			return &kernel.SpawnThread{Program: signaller(gate, note)}
		},
		func(kernel.Result) kernel.Syscall { return waitOn(gate, constants.InfiniteTimeout) },
		func(last kernel.Result) kernel.Syscall {
			gateStatus = last.Status
			return waitOn(note, 1000)
		},
		func(last kernel.Result) kernel.Syscall {
			noteStatus = last.Status
			return &kernel.ExitThread{}
		},
	)
	return []kernel.Program{waiter}, nil, func() string {
		return "gate=" + gateStatus.String() + " notify=" + noteStatus.String()
	}
}

// ============================================================================
// PERIODIC ALARM
// ============================================================================

func alarmProcess() ([]kernel.Program, []ici.Mask, func() string) {
	const periods = 3
	var (
		alarm kobj.Token
		fired int
	)
	steps := []stepFn{
		call(&kernel.Create{Kind: kobj.KindAlarm}),
		func(last kernel.Result) kernel.Syscall {
			alarm = last.Token
			return &kernel.SetAlarm{Object: alarm, Delay: 4, Period: 4}
		},
	}
	for i := 0; i < periods; i++ {
		steps = append(steps, func(last kernel.Result) kernel.Syscall {
			if i > 0 && last.Status == status.OK {
				fired++
			}
			return waitOn(alarm, 100)
		})
	}
	steps = append(steps,
		func(last kernel.Result) kernel.Syscall {
			if last.Status == status.OK {
				fired++
			}
			return &kernel.CancelAlarm{Object: alarm}
		},
		func(kernel.Result) kernel.Syscall { return &kernel.CloseHandle{Object: alarm} },
		call(&kernel.ExitThread{}),
	)
	return []kernel.Program{sequence(steps...)}, nil, func() string {
		return "periods=" + utils.Itoa(fired) + "/" + utils.Itoa(periods)
	}
}

// ============================================================================
// MAILBOX POST AND CLOSE
// ============================================================================

func mailboxProcess() ([]kernel.Program, []ici.Mask, func() string) {
	var box kobj.Token
	first, second := status.Aborted, status.Aborted
	poster := func(box kobj.Token) kernel.Program {
		return sequence(
			call(&kernel.Sleep{Ticks: 2}),
			call(&kernel.MailboxPost{Object: box}),
			call(&kernel.Sleep{Ticks: 4}),
			call(&kernel.MailboxClose{Object: box}),
			call(&kernel.ExitThread{}),
		)
	}
	reader := sequence(
		call(&kernel.Create{Kind: kobj.KindMailbox}),
		func(last kernel.Result) kernel.Syscall {
			box = last.Token
			return &kernel.SpawnThread{Program: poster(box)}
		},
		func(kernel.Result) kernel.Syscall { return waitOn(box, constants.InfiniteTimeout) },
		func(last kernel.Result) kernel.Syscall {
			first = last.Status
			return waitOn(box, constants.InfiniteTimeout)
		},
		func(last kernel.Result) kernel.Syscall {
			second = last.Status
			return &kernel.ExitThread{}
		},
	)
	return []kernel.Program{reader}, nil, func() string {
		return "post=" + first.String() + " close=" + second.String()
	}
}

// ============================================================================
// SEMAPHORE FAN-OUT
// ============================================================================

func semaphoreProcess() ([]kernel.Program, []ici.Mask, func() string) {
	const waiters = 3
	var (
		sem     kobj.Token
		results [waiters]status.Code
	)
	for i := range results {
		results[i] = status.Aborted
	}
	waiter := func(sem kobj.Token, slot *status.Code) kernel.Program {
		return sequence(
			call(waitOn(sem, 500)),
			func(last kernel.Result) kernel.Syscall {
				*slot = last.Status
				return &kernel.ExitThread{}
			},
		)
	}

	steps := []stepFn{
		call(&kernel.Create{Kind: kobj.KindSemaphore, Initial: 0, Max: 8}),
		func(last kernel.Result) kernel.Syscall {
			sem = last.Token
			return &kernel.SpawnThread{Program: waiter(sem, &results[0])}
		},
	}
	for i := 1; i < waiters; i++ {
		slot := &results[i]
		steps = append(steps, func(kernel.Result) kernel.Syscall {
			return &kernel.SpawnThread{Program: waiter(sem, slot)}
		})
	}
	steps = append(steps,
		call(&kernel.Sleep{Ticks: 3}),
		func(kernel.Result) kernel.Syscall { return &kernel.SemRelease{Object: sem, Count: waiters} },
		call(&kernel.ExitThread{}),
	)
	return []kernel.Program{sequence(steps...)}, nil, func() string {
		out := "waiters="
		for i, r := range results {
			if i > 0 {
				out += ","
			}
			out += r.String()
		}
		return out
	}
}

// ============================================================================
// COMPUTE-BOUND THREADS
// ============================================================================

func computeProcess() ([]kernel.Program, []ici.Mask, func() string) {
	const threads = 4
	ioStatus := status.Aborted

	spinner := func(first stepFn) kernel.Program {
		n := 0
		return kernel.ProgramFunc(func(last kernel.Result) kernel.Syscall {
			n++
			switch {
			case n == 1 && first != nil:
				return first(last)
			case n == 2 && first != nil:
				ioStatus = last.Status
			case n > spinSteps:
				return &kernel.ExitThread{}
			}
			return nil
		})
	}

	progs := make([]kernel.Program, threads)
	masks := make([]ici.Mask, threads)
	progs[0] = spinner(call(&kernel.SetIOPermissions{Ports: 1<<3 | 1<<4}))
	masks[0] = ici.Bit(0)
	for i := 1; i < threads; i++ {
		progs[i] = spinner(nil)
		masks[i] = ici.Bit(0) | ici.Bit(1)
	}
	return progs, masks, func() string {
		return "ioperm=" + ioStatus.String()
	}
}

// ============================================================================
// INTERRUPT-DRIVEN DRIVER
// ============================================================================

func driverProcess() ([]kernel.Program, []ici.Mask, func() string) {
	var gate kobj.Token
	bound, delivered := status.Aborted, status.Aborted
	driver := sequence(
		call(&kernel.BindIrq{Line: demoIrqLine}),
		func(last kernel.Result) kernel.Syscall {
			bound = last.Status
			gate = last.Token
			return waitOn(gate, 500)
		},
		func(last kernel.Result) kernel.Syscall {
			delivered = last.Status
			return &kernel.CloseHandle{Object: gate}
		},
		call(&kernel.ExitThread{}),
	)
	return []kernel.Program{driver}, nil, func() string {
		return "bind=" + bound.String() + " irq=" + delivered.String()
	}
}
