// Package health serves the liveness, readiness and version endpoints of
// dispatchd.
//
// Liveness answers as long as the process runs. Readiness runs every
// registered check concurrently, each bounded by the checker timeout; the
// daemon registers a database ping, the scheduler ticker and one check per
// delivery channel.
//
//	checker := health.New(2 * time.Second)
//	checker.Register("store", health.PingCheck(db.SQL()))
//	checker.Register("scheduler", health.RunningCheck(sched.IsRunning))
//	health.Mount(mux, checker, health.VersionInfo{Version: version})
package health
