// Package configsource fetches application configuration from a remote
// store and layers it over the local configuration.
//
// Sources return property sources ordered most specific first:
//
//	<app>,<profile>   application,<profile>   <app>   application
//
// A Resolver walks that chain and then the local defaults. MergeInto applies
// the same precedence to a viper instance so the typed config can be decoded
// again with config.Decode.
//
// Sources register themselves by provider name; import them for their side
// effect:
//
//	import _ "github.com/kbukum/discoverykit/configsource/consulkv"
package configsource
