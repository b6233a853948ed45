// Package executor's action bodies are organised as: executor.go
// (subprocess/truncation helpers), registry.go (the name -> Func
// table and tier tables), actions.go (most action bodies), fs.go
// (process-spawn and file-write helpers), zip.go and ollama.go (the
// two actions with enough machinery to warrant their own file).
package executor
