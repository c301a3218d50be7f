//go:build !linux && !darwin

package tun

import "github.com/songgao/water"

func create(Config) (*water.Interface, error) { return nil, ErrUnsupported }

func configure(string, Config) error { return ErrUnsupported }
