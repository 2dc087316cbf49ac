//go:build mage
// +build mage

package main

import (
	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

var Default = Build

func Build() error {
	return sh.Run(mg.GoCmd(), "build", "./...")
}

func Install() error {
	return sh.Run(mg.GoCmd(), "install", "./cmd/lineage")
}

func Test() error {
	args := []string{"test"}
	if mg.Verbose() {
		args = append(args, "-v")
	}
	args = append(args, "./...")
	return sh.Run(mg.GoCmd(), args...)
}

// Cover runs the tests and writes a coverage profile to cover.out.
func Cover() error {
	return sh.Run(mg.GoCmd(), "test", "-coverprofile=cover.out", "./...")
}

func Vet() error {
	return sh.Run(mg.GoCmd(), "vet", "./...")
}

func Lint() error {
	mg.Deps(Vet)
	return sh.RunV("staticcheck", "./...")
}
