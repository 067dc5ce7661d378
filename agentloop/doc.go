// Package agentloop runs coding tasks: a conversation between a language
// model and a workspace, driven one tool call per turn.
//
// A Manager creates and resumes tasks. Each Task owns its history, mode,
// temperature and mistake counter; it streams a response from the
// Provider, executes at most one tool from it, appends both to history and
// persists itself before the next turn. A task ends when the model calls
// attempt_completion, when it is cancelled, or when it fails.
//
// Side-effecting tools ask the host through an Approver before they act.
// Everything that happens is reported on the Manager's event channel.
//
//	mgr := agentloop.NewManager(client, store, agentloop.WithApprover(approver))
//	defer mgr.Close()
//
//	task, err := mgr.CreateTask(ctx, "/path/to/project", "Add a --verbose flag", agentloop.ProviderConfig{
//	    Model: "claude-sonnet-4-5",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go func() {
//	    for ev := range mgr.Events() {
//	        fmt.Printf("[%s] %v\n", ev.Kind, ev.Data)
//	    }
//	}()
//	if err := task.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package agentloop
