// Package funnel owns the behavioral event ledger and the aggregations on
// top of it: funnel stage metrics, daily trend stats, and per-variant
// conversion metrics.
//
// All session counts are distinct sessions, never raw event counts, so a
// session that fires the same event twice still counts once per stage.
package funnel
