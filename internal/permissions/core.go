package permissions

// Clinic vocabulary. Names are stable identifiers referenced by routes, roles
// and temporary access codes.
const (
	ManageUsers            = "manage_users"
	ManageRoles            = "manage_roles"
	RegisterPatient        = "register_patient"
	ViewPatientData        = "view_patient_data"
	ManagePatientRecords   = "manage_patient_records"
	ManageScreeningRecords = "manage_screening_records"
	PerformConsultation    = "perform_consultation"
	EnterTestResults       = "enter_test_results"
	PerformDirectorReview  = "perform_director_review"
	ViewStatistics         = "view_statistics"
)

var corePermissions = []*Permission{
	{ID: ManageUsers, Module: "administration", Description: "Create, deactivate and list staff accounts"},
	{ID: ManageRoles, Module: "administration", Description: "Manage roles, role assignments and temporary access codes"},
	{ID: RegisterPatient, Module: "patients", Description: "Register new patients"},
	{ID: ViewPatientData, Module: "patients", Description: "View patient records"},
	{ID: ManagePatientRecords, Module: "patients", Description: "Edit patient records"},
	{ID: ManageScreeningRecords, Module: "screening", Description: "Manage screening records"},
	{ID: PerformConsultation, Module: "consultation", Description: "Record consultations"},
	{ID: EnterTestResults, Module: "laboratory", Description: "Enter laboratory test results"},
	{ID: PerformDirectorReview, Module: "review", Description: "Sign off records as director"},
	{ID: ViewStatistics, Module: "reporting", Description: "View clinic statistics"},
}

func init() {
	for _, perm := range corePermissions {
		if err := Register(perm); err != nil {
			panic(err)
		}
	}
}
