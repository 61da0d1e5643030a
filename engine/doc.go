// Package engine wires all jobcontrol subsystems together and provides
// the primary application-level API for registering and enqueuing work.
//
// # Building an Engine
//
//	c, err := jobcontrol.New(
//	    jobcontrol.WithStore(pgStore),
//	    jobcontrol.WithConcurrency(4),
//	)
//
//	eng, err := engine.Build(c,
//	    engine.WithExtension(myExtension),
//	    engine.WithMiddleware(myMiddleware),
//	)
//
// # Registering Work
//
//	engine.Register(eng, job.NewDefinition("sendEmail", SendEmail))
//	eng.RegisterHandler("import", time.Minute, 5*time.Minute, importHandler)
//
// # Enqueuing Jobs
//
//	engine.Enqueue(ctx, eng, "sendEmail", EmailInput{To: "user@example.com"})
//	eng.Enqueue(ctx, "import", data, job.WithRunAt(time.Now().Add(time.Hour)))
//
// # Recurring Jobs
//
//	eng.OnReady(func(ctx context.Context) error {
//	    _, err := eng.InstallRecurring(ctx, "report", nil,
//	        job.WithRepeat("every day at 3:00"),
//	        job.WithCancelRepeats(),
//	    )
//	    return err
//	})
//	eng.Start(ctx)
//	eng.Ready(ctx)
//
// # Options
//
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: add a middleware to the execution chain
//   - [WithWatcher]: override the change feed that wakes worker loops
//   - [WithTracerProvider]: set the OpenTelemetry tracer provider
//   - [WithMeterProvider]: set the OpenTelemetry meter provider
package engine
