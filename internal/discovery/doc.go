// Package discovery reconstructs the data-file inventory of flat-address
// controllers that expose no tag directory.
//
// These controllers have a fixed but undocumented memory layout: numbered
// data files of a single element type each, with an unknown element count.
// The engine probes the address space with single-element reads:
//
//   - a default-range pass confirms the well-known file layout (O0, I1, S2,
//     B3, T4, C5, R6, N7, F8),
//   - a user-range pass tries an ordered list of candidate types against the
//     remaining file numbers; the first type that answers fixes the file,
//   - FindFileSize brackets each confirmed file's element count with an
//     exponential probe and closes the bracket by binary search, keeping the
//     per-file cost at O(log size) probes.
//
// A probe failure is indistinguishable from a transient read fault at this
// layer and is treated as "element absent". Callers that need confidence in
// a scan should compare probe/absent counters across runs.
//
// Example usage:
//
//	engine := discovery.NewEngine(prober)
//	engine.SetLogger(log)
//	inventory, err := engine.Scan(ctx, discovery.Options{
//	    OnProgress: func(p discovery.Progress) { report(p) },
//	})
package discovery
