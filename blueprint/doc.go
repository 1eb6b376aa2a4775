// Package blueprint loads pipeline descriptions from YAML and builds them.
//
// A blueprint lists processes by name and type, the connections between
// their ports written as "process.port", feedback connections, and cluster
// types declared as tagged config, input and output blocks. Includes pull
// in other blueprints by name through a Loader.
//
//	b, err := blueprint.LoadFile("pipelines/ingest.yaml")
//	if err != nil {
//	    return err
//	}
//	p, err := b.Build(reg, blueprint.WithLoader(blueprint.NewFileLoader("pipelines")))
package blueprint
