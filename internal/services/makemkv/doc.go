// Package makemkv drives makemkvcon in robot mode to catalog a disc and rip
// its main title.
//
// Both operations hold the per-device lock from package disc for their whole
// run, so drive classification never overlaps a rip. Output is parsed with
// package toolparse and the process group is supervised by package procrun.
package makemkv
