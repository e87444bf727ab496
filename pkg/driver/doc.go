// Package driver runs parameter studies.
//
// A Driver owns a params.Set bound to a model.Assembly. Each case supplies
// values by name: a name that matches a parameter key, or any target of a
// grouped parameter, is set positionally through the set; any other name is
// set directly on the assembly. The assembly then runs and the driver's
// outputs are evaluated and handed to the recorders.
//
//	study, err := config.NewLoader(logger).LoadFile(ctx, "study.yaml")
//	if err != nil {
//	    return err
//	}
//	drv, err := driver.FromStudy(ctx, study, driver.WithStore(store))
//	if err != nil {
//	    return err
//	}
//	all, err := driver.LoadCases(study)
//	if err != nil {
//	    return err
//	}
//	summary, err := drv.Run(ctx, cases.NewListIterator(all))
//
// A failing case does not stop the run. Its error is kept in Case.Msg and
// its outputs are left empty.
//
// When a store is configured each run, its parameters and the cases of db
// recorders are persisted under a fresh run id.
package driver
