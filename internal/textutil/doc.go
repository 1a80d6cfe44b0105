// Package textutil turns disc labels into search queries and titles into
// filesystem-safe names.
package textutil
