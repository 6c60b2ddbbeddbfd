// doc.go: Package documentation for the go-hostkit plugin runtime
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

// Package hostkit composes independently developed plugins into a single
// running process that shares common infrastructure without every plugin
// re-implementing it.
//
// The runtime is built from a small number of cooperating components:
//
//   - ServiceRegistry: a typed dependency-injection container mapping
//     abstract capability types to singleton, factory, or scoped providers.
//   - ConfigProvider: layered configuration (defaults, environment, plugin
//     files, operator overrides) with validated, atomic hot reload.
//   - DiscoveryEngine: locates plugin manifests from directory and package
//     sources and merges them deterministically.
//   - LifecycleManager: drives every plugin through a strict state machine
//     (Discovered -> Loaded -> Initialized -> Started -> Running) with
//     failure isolation, parallel starts, and ordered shutdown.
//   - ServiceCatalog: records the operations a running plugin exposes and
//     routes inbound calls through a composable middleware chain.
//
// The Runtime type ties the components together and is the intended entry
// point for hosting processes:
//
//	logger := hostkit.NewZerologAdapter(zerolog.New(os.Stdout))
//	rt, err := hostkit.NewRuntime(hostkit.RuntimeOptions{Logger: logger})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	rt.Registry().RegisterInstance("database", db)
//	rt.AddSource(hostkit.NewDirectorySource("/etc/hostkit/plugins.d", logger))
//
//	if err := rt.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Shutdown(context.Background())
//
//	resp, err := rt.Catalog().Route(ctx, "billing.charge", req)
//
// Every registry, provider, and manager is an ordinary value owned by the
// Runtime that created it; there are no process-wide singletons, so multiple
// isolated runtimes can coexist in one process (useful for tests).
//
// The hosting process owns the actual network transport. hostkit only
// exposes ListOperations and Route; how requests arrive is out of scope.
package hostkit
