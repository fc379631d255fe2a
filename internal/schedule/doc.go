// Package schedule parses daemon schedule strings and drives periodic runs
// with robfig/cron.
package schedule
