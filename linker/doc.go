// Package linker groups host-supplied bindings into import namespaces and
// resolves a module's declared imports against them.
//
// A Registry collects (module, name) → Binding entries, last write wins.
// Finalize freezes the current contents into an ImportObject, which is what
// instantiation consumes. The registry does not look at any module, so an
// import that nothing supplies is only noticed when linking.
//
// Resolve links a parsed module against an ImportObject by renaming its
// imports:
//
//	host function   env.log    →  env#io3.log   (host module shared per ImportObject)
//	instance export env.memory →  instance-7.memory
//	store memory    env.memory →  memory#2.memory
//
// Host modules are reference counted. Every Resolution holds one reference
// to each host module it uses and gives it back on Release; the last
// release closes the module. Imports nothing supplies are left untouched so
// that instantiation fails with wazero's own message.
package linker
