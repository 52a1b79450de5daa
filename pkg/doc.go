// Package pkg groups the Agent Communication Protocol runtime's
// implementation packages. Import the sub-packages directly; see the
// module root for an overview and examples.
package pkg
