// Package sockpuppet provides a Go client for driving VS Code through the
// Sockpuppet extension.
//
// The extension listens on a local socket and speaks a newline-delimited
// JSON protocol: requests with correlation ids, matching responses, and
// unsolicited event notifications. This package implements the connection
// engine for that protocol: one persistent connection, synchronous-looking
// calls from any number of goroutines, and push-event delivery to registered
// handlers. Editor-specific methods stay thin wrappers over Call.
//
// # Basic Usage
//
//	ctx := context.Background()
//
//	client := sockpuppet.NewClient()
//	defer client.Close()
//
//	if err := client.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := client.Call(ctx, "window.showInformationMessage",
//	    map[string]any{"message": "hello from Go"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Events
//
// Handlers are registered per topic; the first handler for a topic
// subscribes host-side, the last removal unsubscribes:
//
//	sub, err := client.On(ctx, "workspace.onDidSaveTextDocument",
//	    func(payload json.RawMessage) error {
//	        fmt.Printf("saved: %s\n", payload)
//	        return nil
//	    })
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Off(ctx, sub)
//
// Topics scoped to one created resource, such as a webview panel, narrow
// with OnScoped:
//
//	sub, err := client.OnScoped(ctx, "webview.onDidReceiveMessage", panelID, handler)
//
// # Lifecycle
//
// The WithClient helper manages connect/close around a callback:
//
//	err := sockpuppet.WithClient(ctx, func(c sockpuppet.Client) error {
//	    _, err := c.ExecuteCommand(ctx, "workbench.action.files.saveAll")
//	    return err
//	}, sockpuppet.WithLogger(slog.Default()))
//
// # Endpoint Resolution
//
// By default the client dials the socket path in the VSCODE_SOCKPUPPET_PIPE
// environment variable, falling back to vscode-sockpuppet.sock in the temp
// directory. Override with WithPipePath or WithEndpoint.
//
// # Error Handling
//
// Per-call failures surface as sentinel errors (ErrCallTimeout,
// ErrConnectionLost, ErrNotConnected) or a typed *RemoteError when the host
// answered with an explicit error:
//
//	result, err := client.Call(ctx, "commands.executeCommand", params)
//	if err != nil {
//	    var remote *sockpuppet.RemoteError
//	    if errors.As(err, &remote) {
//	        log.Printf("host rejected the call: %s", remote.Message)
//	    }
//	}
package sockpuppet
