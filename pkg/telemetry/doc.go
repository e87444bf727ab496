// Package telemetry instruments study runs with zerolog logging,
// OpenTelemetry spans, Prometheus metrics and an in-process event bus.
//
// A Telemetry is built once per command and carried in the context:
//
//	tel, err := telemetry.NewTelemetry(ctx, telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.WithoutCancel(ctx))
//	ctx = tel.WithContext(ctx)
//
// The driver then brackets each run and case:
//
//	ctx = telemetry.WithRunContext(ctx, runID, study)
//	defer telemetry.EndRunContext(ctx, runID, status, err)
//
//	caseCtx := telemetry.WithCaseContext(ctx, runID, caseID, label)
//	err := telemetry.RecordComponentExecution(caseCtx, model, assembly.Run)
//	telemetry.EndCaseContext(caseCtx, runID, driver, caseID, label, err)
//
// Inside those contexts LoggerFrom returns a logger tagged with run_id,
// study, case_id and case. Without a Telemetry in the context every helper
// is a no-op.
//
// Metrics (namespace mdao):
//
//	mdao_driver_runs_total{study,status}
//	mdao_driver_run_duration_seconds{status}
//	mdao_driver_runs_in_flight
//	mdao_driver_cases_total{driver,result}
//	mdao_driver_case_duration_seconds{driver}
//	mdao_params_registered{driver}
//	mdao_params_additions_total{driver,result}
//	mdao_params_assignments_total{driver,result}
//	mdao_model_executions_total{component,result}
//	mdao_model_execution_duration_seconds{component}
//	mdao_errors_total{kind,code}
//	mdao_policy_violations_total{policy,severity}
//
// StoreSink subscribes the run database to the event bus.
package telemetry
