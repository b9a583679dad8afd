// Package pipeline holds the driver side of a social login: an ordered step
// runner over the Linker, the state token carried through the provider
// redirect, classification of provider errors into outcomes, and the
// decisions and localized messages a driver shows for them.
//
// A typical callback handler verifies state, checks the callback query for a
// provider error, exchanges the code, then runs the steps:
//
//	state, err := states.Verify(backend, session.Nonce, r.URL.Query().Get("state"))
//	if err == nil {
//		err = pipeline.CallbackError(backend, r.URL.Query())
//	}
//	if err == nil {
//		_, err = runner.Run(ctx, &pipeline.Context{Backend: backend, UID: uid, Profile: profile})
//	}
//	switch pipeline.Decide(err).Action { ... }
package pipeline
