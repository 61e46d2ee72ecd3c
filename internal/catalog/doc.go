// Package catalog provides the REST client for the meter catalogue.
//
// The catalogue is a collaborator interface: the core consumes only the
// device list it returns, used to seed the selectable-device set. Historical
// aggregates and authentication live with other collaborators.
package catalog
