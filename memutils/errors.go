package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// ElementMultipleError is the error returned from CheckMultipleOf when a size or alignment does not land on a
// boundary of the fixed-size unit that will manage it
var ElementMultipleError error = errors.New("number must be a multiple of the unit size")
