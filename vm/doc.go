// Package vm implements the Quill virtual machine.
//
// This package contains:
//   - the closed Value tagged union and its seven managed handle kinds
//   - Class: property bag, method table and lookup cache
//   - the bytecode Instruction set and stack-based Interpreter
//   - the bootstrap library of foreign methods
package vm
